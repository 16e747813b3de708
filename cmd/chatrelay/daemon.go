package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"chatrelay/internal/config"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.chatrelay.serve"
	systemdUnit  = "chatrelay.service"
)

// serviceSpec is the data rendered into a service definition.
type serviceSpec struct {
	Label   string
	Exec    string
	Config  string
	Log     string
	ErrLog  string
	WorkDir string
}

// serviceFile returns where the service definition lives for this OS.
func serviceFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the chatrelay background service",
	}
	cmd.AddCommand(installDaemonCmd(), uninstallDaemonCmd())
	return cmd
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install chatrelay as a user service (launchd/systemd)",
		Long:  "Writes a service definition that runs 'chatrelay serve' on login and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			target, err := serviceFile()
			if err != nil {
				return err
			}

			logDir := filepath.Join(config.DefaultConfigDir(), "logs")
			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return err
			}
			wd, _ := os.Getwd()
			spec := serviceSpec{
				Label:   launchdLabel,
				Exec:    execPath,
				Config:  resolveConfigPath(),
				Log:     filepath.Join(logDir, "chatrelay.log"),
				ErrLog:  filepath.Join(logDir, "chatrelay-error.log"),
				WorkDir: wd,
			}

			tmpl := systemdTemplate
			if runtime.GOOS == "darwin" {
				tmpl = launchdTemplate
			}
			data, err := renderService(tmpl, spec)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return err
			}

			fmt.Printf("Daemon installed: %s\n", target)
			if runtime.GOOS == "darwin" {
				fmt.Printf("To start: launchctl load %s\n", target)
				fmt.Printf("To stop:  launchctl unload %s\n", target)
			} else {
				fmt.Println("To start:  systemctl --user start chatrelay")
				fmt.Println("To enable: systemctl --user enable chatrelay")
				fmt.Println("To stop:   systemctl --user stop chatrelay")
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the chatrelay user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := serviceFile()
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", target)
			return nil
		},
	}
}

func renderService(tmpl string, spec serviceSpec) ([]byte, error) {
	t, err := template.New("service").Parse(tmpl)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, spec); err != nil {
		return nil, fmt.Errorf("render service file: %w", err)
	}
	return buf.Bytes(), nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key><string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Exec}}</string><string>serve</string>
		<string>--config</string><string>{{.Config}}</string>
	</array>
	<key>WorkingDirectory</key><string>{{.WorkDir}}</string>
	<key>RunAtLoad</key><true/>
	<key>KeepAlive</key><true/>
	<key>StandardOutPath</key><string>{{.Log}}</string>
	<key>StandardErrorPath</key><string>{{.ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=chatrelay messenger relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
ExecStart={{.Exec}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
