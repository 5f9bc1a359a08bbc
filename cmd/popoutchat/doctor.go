package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"popoutchat/internal/config"
	"popoutchat/internal/conversation"
	"popoutchat/internal/domain"
	"popoutchat/internal/transcript"
)

func doctorCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your popoutchat installation",
		Long: `Verifies that the configuration, webhook, transcript database and ports
are usable. With --probe the webhook receives a real loadPreviousSession
call on the "doctor" route.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "popoutchat doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &report{out: out}

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			checkWebhook(cmd.Context(), r, cfg, probe)

			if cfg.Storage.Enabled {
				if err := checkDatabase(cfg.Storage.DBPath); err != nil {
					r.fail("Transcript database", err.Error())
				} else {
					r.pass("Transcript database", cfg.Storage.DBPath)
				}
			} else {
				r.warn("Transcript database", "storage disabled; transcripts are not kept")
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Gateway port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Gateway port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
			}

			if cfg.Server.PublicURL == "" {
				r.warn("Public URL", "not set; cross-site embedding needs an https publicUrl")
			} else {
				r.pass("Public URL", cfg.Server.PublicURL)
			}

			return r.summary()
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "send a loadPreviousSession request to the webhook")
	return cmd
}

func checkWebhook(ctx context.Context, r *report, cfg *config.Config, probe bool) {
	if !cfg.Webhook.Configured() {
		if cfg.Advanced.DemoMode {
			r.warn("Webhook", "not configured; demo replies enabled")
		} else {
			r.fail("Webhook", "not configured (set webhook.url or POPOUT_WEBHOOK_URL)")
		}
		return
	}
	masked := config.Sanitize(cfg).Webhook.URL
	r.pass("Webhook", masked)

	u, err := url.Parse(cfg.Webhook.URL)
	if err != nil {
		r.fail("Webhook reachable", err.Error())
		return
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	conn, err := net.DialTimeout("tcp", host, 5*time.Second)
	if err != nil {
		r.fail("Webhook reachable", err.Error())
		return
	}
	conn.Close()
	r.pass("Webhook reachable", host)

	if !probe {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client := conversation.New(conversation.Options{HTTPClient: conversation.NewHTTPClient(30 * time.Second)})
	res := client.StartSession(ctx, cfg.Webhook, "doctor")
	if res.Kind != domain.ResultOK {
		detail := res.Text
		if res.Cause != nil {
			detail = res.Cause.Error()
		}
		r.fail("Webhook probe", detail)
		return
	}
	r.pass("Webhook probe", fmt.Sprintf("session %s answered %q", res.SessionID, truncate(res.Text, 40)))
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}
	store, err := transcript.NewSQLiteStore(dbPath, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.DB().ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = store.DB().ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	v, err := transcript.SchemaVersion(store.DB())
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	if v == 0 {
		return fmt.Errorf("schema not migrated")
	}
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

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// report prints check results and tallies them.
type report struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(r.out, "\nPlease fix the failed checks before running popoutchat.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(r.out, "\npopoutchat should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(r.out, "\nAll checks passed! popoutchat is ready to run.\n")
	}
	return nil
}
