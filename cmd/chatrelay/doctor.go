package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"chatrelay/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chatrelay installation",
		Long: `Verifies that chatrelay's configuration, messenger credentials, backend,
uploads directory and attachment index are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("chatrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (defaults + env)", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			switch cfg.Messenger.Driver {
			case config.DriverTelegram:
				if cfg.Messenger.Telegram.Token == "" {
					printFail("Messenger", "telegram token not set")
					failed++
				} else {
					printPass("Messenger", "telegram")
					passed++
				}
				if len(cfg.Messenger.Telegram.AllowFrom) == 0 {
					printWarn("Telegram allowFrom", "empty, every user can reach the backend")
					warned++
				}
			case config.DriverWhatsApp:
				wa := cfg.Messenger.WhatsApp
				if wa.AccessToken == "" || wa.PhoneNumberID == "" || wa.VerifyToken == "" {
					printFail("Messenger", "whatsapp needs accessToken, phoneNumberId and verifyToken")
					failed++
				} else {
					printPass("Messenger", "whatsapp")
					passed++
				}
				if wa.AppSecret == "" {
					printWarn("WhatsApp appSecret", "not set, webhook signatures are not checked")
					warned++
				}
			default:
				printPass("Messenger", cfg.Messenger.Driver)
				passed++
			}

			if err := checkReachable(cfg.Backend.WebhookURL); err != nil {
				printWarn("Backend webhook", err.Error())
				warned++
			} else {
				printPass("Backend webhook", cfg.Backend.WebhookURL)
				passed++
			}
			if cfg.Backend.BaseURL == "" {
				printWarn("Backend base URL", "not set, /user-stats will always return 404")
				warned++
			}

			if err := checkWritableDir(cfg.Attachments.UploadsDir); err != nil {
				printFail("Uploads dir", err.Error())
				failed++
			} else {
				printPass("Uploads dir", cfg.Attachments.UploadsDir)
				passed++
			}

			if cfg.Attachments.IndexEnabled {
				if err := checkDatabase(cfg.Attachments.IndexPath); err != nil {
					printFail("Attachment index", err.Error())
					failed++
				} else {
					printPass("Attachment index", cfg.Attachments.IndexPath)
					passed++
				}
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("HTTP port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running chatrelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nchatrelay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! chatrelay is ready to run.\n")
			}
			return nil
		},
	}
}

// checkReachable dials the host of rawURL.
func checkReachable(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid url %q", rawURL)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 3*time.Second)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	conn.Close()
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
