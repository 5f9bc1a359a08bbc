package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	serviceName  = "popoutchat"
	launchdLabel = "ai.toratech.popoutchat"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run the gateway as a user service (systemd or launchd)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write a user service that runs 'popoutchat serve'",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			path, body, hint, err := serviceUnit(runtime.GOOS, execPath, cfgPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service installed: %s\n%s\n", path, hint)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _, _, err := serviceUnit(runtime.GOOS, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service removed: %s\n", path)
			return nil
		},
	})

	return cmd
}

// serviceUnit renders the service definition for goos and returns where it
// belongs plus a hint on how to start it.
func serviceUnit(goos, execPath, cfgPath string) (path, body, hint string, err error) {
	home, _ := os.UserHomeDir()
	r := strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LABEL}}", launchdLabel,
		"{{LOG}}", filepath.Join(home, ".popoutchat", "logs", "popoutchat.log"),
	)

	switch goos {
	case "linux":
		path = filepath.Join(home, ".config", "systemd", "user", serviceName+".service")
		hint = "Start with: systemctl --user enable --now " + serviceName
		return path, r.Replace(systemdTemplate), hint, nil
	case "darwin":
		path = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		hint = "Start with: launchctl load " + path
		return path, r.Replace(launchdTemplate), hint, nil
	default:
		return "", "", "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

const systemdTemplate = `[Unit]
Description=popoutchat widget gateway
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>
`
