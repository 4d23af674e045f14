package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dm-vev/sqe/server"
	"github.com/dm-vev/sqe/server/stats"
)

// Console provides a simple CLI backed command source that reads commands from
// an io.Reader (defaulting to os.Stdin) and executes them on the provided server.
type Console struct {
	srv    *server.Server
	log    *slog.Logger
	reader io.Reader
}

// New returns a Console bound to the provided server. The console reads from
// os.Stdin and writes command output to the supplied logger.
func New(srv *server.Server, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{
		srv:    srv,
		log:    log,
		reader: os.Stdin,
	}
}

// WithReader sets a custom reader for the console input. It enables testing the
// console without relying on os.Stdin.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

type command struct {
	name, description string
	run               func(c *Console)
}

var commands []command

func init() {
	commands = []command{
		{name: "stats", description: "Displays the process-wide counters.", run: (*Console).stats},
		{name: "sessions", description: "Lists connected clients and their counters.", run: (*Console).sessions},
		{name: "stop", description: "Disconnects all clients and stops the server.", run: (*Console).stop},
		{name: "help", description: "Lists the available commands.", run: (*Console).help},
	}
}

// Run starts consuming commands from the console. It blocks until the context
// is cancelled, the underlying reader reaches EOF or the stop command is run.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.srv.Closed():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input error", "err", err)
			}
			return
		}
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "/")
		if line == "" {
			continue
		}
		c.Exec(line)
	}
}

// Exec runs a single command line.
func (c *Console) Exec(line string) {
	name, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	for _, cmd := range commands {
		if strings.EqualFold(cmd.name, name) {
			cmd.run(c)
			return
		}
	}
	c.log.Error("Unknown command: " + name + ". Run help for a list of commands.")
}

func (c *Console) stats() {
	attrs := []any{}
	if start := c.srv.StartTime(); !start.IsZero() {
		attrs = append(attrs, "uptime", time.Since(start).Round(time.Second).String())
	}
	for _, p := range stats.Present(c.srv.Stats().Snapshot()) {
		attrs = append(attrs, p.Name, p.Value)
	}
	c.log.Info("Stats", attrs...)
}

func (c *Console) sessions() {
	c.log.Info("Sessions", "connected", c.srv.SessionCount())
	for s := range c.srv.Sessions() {
		attrs := []any{
			"session", s.ID().String(),
			"raddr", s.RemoteAddr().String(),
			"connected", time.Since(s.Opened()).Round(time.Second).String(),
		}
		for _, p := range stats.Present(s.Counters()) {
			attrs = append(attrs, p.Name, p.Value)
		}
		c.log.Info("Session", attrs...)
	}
}

func (c *Console) stop() {
	if err := c.srv.Close(); err != nil {
		c.log.Error("close server", "err", err)
	}
}

func (c *Console) help() {
	for _, cmd := range commands {
		c.log.Info(cmd.name + ": " + cmd.description)
	}
}
