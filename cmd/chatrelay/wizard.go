package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chatrelay/internal/config"

	"github.com/spf13/cobra"
)

var knownDrivers = []struct {
	ID   string
	Desc string
}{
	{config.DriverWhatsApp, "WhatsApp Business Cloud API (webhook)"},
	{config.DriverTelegram, "Telegram bot (long polling)"},
	{config.DriverConsole, "Terminal, for local testing"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: backend → messenger → attachments → save config",
		Long:  "Guides you through the backend webhook URL, the messenger driver and its credentials, and the uploads directory. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'chatrelay doctor', then 'chatrelay serve'.")
			return nil
		},
	}
}

// runWizard fills cfg from answers read on in and validates the result.
func runWizard(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Backend ---")
	fmt.Fprint(out, "Webhook URL")
	v, err := prompt(cfg.Backend.WebhookURL)
	if err != nil {
		return err
	}
	cfg.Backend.WebhookURL = v
	fmt.Fprint(out, "Backend base URL for user stats (blank to skip)")
	if cfg.Backend.BaseURL, err = prompt(cfg.Backend.BaseURL); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 2: Messenger ---")
	defNum := "1"
	for i, d := range knownDrivers {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, d.ID, d.Desc)
		if d.ID == cfg.Messenger.Driver {
			defNum = fmt.Sprint(i + 1)
		}
	}
	fmt.Fprintf(out, "Choose messenger (1-%d)", len(knownDrivers))
	choice, err := prompt(defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownDrivers) {
		idx = 1
	}
	cfg.Messenger.Driver = knownDrivers[idx-1].ID

	switch cfg.Messenger.Driver {
	case config.DriverTelegram:
		fmt.Fprint(out, "Telegram bot token (from @BotFather, or ${TELEGRAM_TOKEN})")
		if cfg.Messenger.Telegram.Token, err = prompt(cfg.Messenger.Telegram.Token); err != nil {
			return err
		}
		fmt.Fprint(out, "Allowed user IDs, comma separated (blank = everyone)")
		ids, err := prompt(strings.Join(cfg.Messenger.Telegram.AllowFrom, ","))
		if err != nil {
			return err
		}
		cfg.Messenger.Telegram.AllowFrom = splitList(ids)
	case config.DriverWhatsApp:
		wa := &cfg.Messenger.WhatsApp
		for _, q := range []struct {
			label string
			dst   *string
		}{
			{"Access token", &wa.AccessToken},
			{"Phone number ID", &wa.PhoneNumberID},
			{"Webhook verify token", &wa.VerifyToken},
			{"App secret (blank to skip signature checks)", &wa.AppSecret},
		} {
			fmt.Fprint(out, q.label)
			if *q.dst, err = prompt(*q.dst); err != nil {
				return err
			}
		}
	}

	fmt.Fprintln(out, "\n--- Step 3: Attachments ---")
	fmt.Fprint(out, "Uploads directory")
	if cfg.Attachments.UploadsDir, err = prompt(cfg.Attachments.UploadsDir); err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	fmt.Fprintf(out, "  Using messenger: %s\n", cfg.Messenger.Driver)
	return nil
}

func splitList(s string) config.FlexStringList {
	var out config.FlexStringList
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
