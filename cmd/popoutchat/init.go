package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"popoutchat/internal/config"
)

func initCmd() *cobra.Command {
	var interactive, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Writes config.yaml with the widget defaults. With --interactive you are
asked for the webhook URL, route and basic branding first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if interactive {
				if err := runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfg); err != nil {
					return err
				}
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: run 'popoutchat serve' and embed <script src=\".../widget.js\"></script>.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for webhook and branding")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// runWizard asks for the settings an operator usually changes first.
// Empty answers keep the shown default.
func runWizard(in io.Reader, out io.Writer, cfg *config.Config) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
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

	fmt.Fprintln(out, "\n--- Webhook ---")
	fmt.Fprintln(out, "Leave the URL empty to configure it later (or use ${POPOUT_WEBHOOK_URL}).")
	url, err := prompt("Webhook URL", cfg.Webhook.URL)
	if err != nil {
		return err
	}
	cfg.Webhook.URL = url
	route, err := prompt("Route", "general")
	if err != nil {
		return err
	}
	cfg.Webhook.Route = route

	fmt.Fprintln(out, "\n--- Branding ---")
	if cfg.Branding.Name, err = prompt("Assistant name", cfg.Branding.Name); err != nil {
		return err
	}
	if cfg.Style.PrimaryColor, err = prompt("Primary color", cfg.Style.PrimaryColor); err != nil {
		return err
	}
	for {
		pos, err := prompt("Position (left/right)", cfg.Style.Position)
		if err != nil {
			return err
		}
		if pos == "left" || pos == "right" {
			cfg.Style.Position = pos
			break
		}
		fmt.Fprintln(out, "  please answer left or right")
	}

	if cfg.Webhook.URL == "" {
		answer, err := prompt("No webhook set. Enable demo replies? (y/n)", "n")
		if err != nil {
			return err
		}
		cfg.Advanced.DemoMode = answer == "y" || answer == "yes"
	}
	return nil
}
