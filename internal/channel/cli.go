package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"popoutchat/internal/domain"
)

// CLIVisitor is the visitor id the terminal chat mounts under.
const CLIVisitor = "cli"

// CLI is an interactive terminal chat against the configured webhook.
type CLI struct {
	mount  *Mount
	route  string
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Mounts *Mounts
	Route  string // route for conversations started here; empty uses the config
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

var _ domain.Channel = (*CLI)(nil)

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		mount:  cfg.Mounts.Acquire(CLIVisitor, nil),
		route:  cfg.Route,
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until /quit, EOF or ctx cancellation. The first
// message starts a conversation when none is open.
func (c *CLI) Start(ctx context.Context) error {
	name := c.mount.Config().Branding.Name
	_, _ = fmt.Fprintf(c.out, "%s. Type a message and press Enter. /new starts a new conversation, /quit exits.\n", name)
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		case line == "/new":
			c.start(ctx)
		default:
			if c.mount.Session() == "" {
				c.start(ctx)
			}
			c.startThinking()
			turn := c.mount.Send(ctx, line)
			c.stopThinking()
			if turn.BotMessage != nil {
				c.reply(turn.BotMessage.Content)
			}
		}
		c.prompt()
	}
}

func (c *CLI) start(ctx context.Context) {
	c.startThinking()
	turn := c.mount.Start(ctx, c.route)
	c.stopThinking()
	if turn.BotMessage != nil {
		c.reply(turn.BotMessage.Content)
	}
}

func (c *CLI) reply(text string) {
	_, _ = fmt.Fprintf(c.out, "--- %s ---\n", c.mount.Config().Branding.Name)
	_, _ = fmt.Fprintln(c.out, text)
	_, _ = fmt.Fprintln(c.out, strings.Repeat("-", 16))
}

func (c *CLI) prompt() { _, _ = fmt.Fprint(c.out, "You> ") }

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				_, _ = fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				_, _ = fmt.Fprintf(c.out, "\r%s Waiting for reply...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// Stop is a no-op; the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }
