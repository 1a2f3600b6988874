// Package compose brings the devkit containers up and down with docker-compose.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/inkton/nester-develop/pkg/reporting"
)

// ErrComposeFailed wraps every failed compose invocation
var ErrComposeFailed = errors.New("docker-compose failed")

// Config contains compose settings
type Config struct {
	// Command is the compose command line, e.g. "docker-compose" or
	// "docker compose"
	Command string

	// Document is the topology document passed with --file
	Document string

	// Root is the working directory
	Root string

	// Timeout bounds each invocation. Zero means no limit.
	Timeout time.Duration
}

// Compose runs compose commands against one topology document
type Compose struct {
	cfg    Config
	logger *reporting.Logger
}

// New creates a compose driver
func New(cfg Config, logger *reporting.Logger) *Compose {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "docker-compose"
	}
	if logger == nil {
		logger = reporting.NopLogger()
	}
	return &Compose{cfg: cfg, logger: logger}
}

// Up creates and starts the containers in the background
func (c *Compose) Up(ctx context.Context, sink reporting.ProgressSink) error {
	sink.Step("", "Composing docker containers")
	sink.Step("", "The docker images will be downloaded and built, this may take a while ...")
	return c.run(ctx, sink, "up", "-d")
}

// Down stops and removes the containers
func (c *Compose) Down(ctx context.Context, sink reporting.ProgressSink) error {
	sink.Step("", "Stopping docker containers")
	return c.run(ctx, sink, "down")
}

// Args returns the full command line of a compose subcommand
func (c *Compose) Args(sub ...string) []string {
	args := strings.Fields(c.cfg.Command)
	args = append(args, "--file", c.cfg.Document)
	return append(args, sub...)
}

func (c *Compose) run(ctx context.Context, sink reporting.ProgressSink, sub ...string) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	args := c.Args(sub...)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.cfg.Root

	c.logger.Debug("Running compose", "command", strings.Join(args, " "), "dir", c.cfg.Root)

	out, err := cmd.CombinedOutput()
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sink.Step("", line)
		}
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %s", ErrComposeFailed, strings.Join(sub, " "), c.cfg.Timeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v, ensure docker is installed and accessible from this environment", ErrComposeFailed, strings.Join(sub, " "), err)
	}

	return nil
}
