// Package executor runs nester commands inside service containers.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/inkton/nester-develop/pkg/monitoring/metrics"
	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
)

// PermissionDeniedSignature marks rotated access keys in nester output
const PermissionDeniedSignature = "Permission denied"

var (
	// ErrPermissionDenied means the access keys changed. Do not retry.
	ErrPermissionDenied = errors.New("permission denied: the access keys have changed, request a devkit with the new keys")

	// ErrRemoteCommandFailed matches every *RemoteCommandError
	ErrRemoteCommandFailed = errors.New("remote command failed")

	// ErrTimeout is returned when a command outlives its deadline
	ErrTimeout = errors.New("remote command timed out")
)

// outputTail is the number of trailing output lines kept on failure
const outputTail = 20

// RemoteCommandError describes a non-zero nester exit
type RemoteCommandError struct {
	Container string
	Command   string
	ExitCode  int
	Output    string
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("%s %s exited with code %d: ensure docker is installed and accessible from this environment, run `nest reset` if containers are not running",
		e.Container, e.Command, e.ExitCode)
}

// Is lets errors.Is match ErrRemoteCommandFailed
func (e *RemoteCommandError) Is(target error) bool {
	return target == ErrRemoteCommandFailed
}

// Config contains executor settings
type Config struct {
	DockerBinary string
	NesterBinary string
	NesterLog    string

	// Timeout bounds every command. Zero means no limit.
	Timeout time.Duration
}

// ContainerExecer runs a command directly in a container
type ContainerExecer interface {
	ExecCommand(ctx context.Context, container string, cmd []string) (string, error)
}

// Executor spawns nester commands through the docker CLI
type Executor struct {
	cfg     Config
	logger  *reporting.Logger
	metrics *metrics.Metrics
	direct  ContainerExecer
}

// New creates an executor. direct may be nil when direct exec is not needed.
func New(cfg Config, direct ContainerExecer, logger *reporting.Logger, m *metrics.Metrics) *Executor {
	if cfg.DockerBinary == "" {
		cfg.DockerBinary = "docker"
	}
	if cfg.NesterBinary == "" {
		cfg.NesterBinary = "nester"
	}
	if cfg.NesterLog == "" {
		cfg.NesterLog = "/tmp/console_cmd"
	}
	if logger == nil {
		logger = reporting.NopLogger()
	}
	return &Executor{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		direct:  direct,
	}
}

// Args returns the docker arguments for a nester command
func (e *Executor) Args(container string, tokens ...string) []string {
	args := []string{"exec", container, e.cfg.NesterBinary, "-l", e.cfg.NesterLog}
	return append(args, tokens...)
}

// Run executes nester with tokens in the service container, streaming every
// output line to sink. Output containing the permission denied signature
// fails the command even when it exits 0.
func (e *Executor) Run(ctx context.Context, sink reporting.ProgressSink, svc *topology.ServiceDescriptor, tokens ...string) error {
	command := strings.Join(tokens, " ")
	err := e.run(ctx, sink, svc, tokens)
	e.metrics.ObserveCommand(command, err)
	return err
}

func (e *Executor) run(ctx context.Context, sink reporting.ProgressSink, svc *topology.ServiceDescriptor, tokens []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	command := strings.Join(tokens, " ")
	sink.Step(svc.Key, fmt.Sprintf("Working with %s ...", svc.ContainerName))

	runCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.DockerBinary, e.Args(svc.ContainerName, tokens...)...)
	cmd.WaitDelay = 5 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	log := e.logger.WithField("container", svc.ContainerName)
	log.Debug("Running remote command", "command", command)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start %s: %w", e.cfg.DockerBinary, err)
	}

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitCh <- err
	}()

	denied := false
	tail := newTail(outputTail)

	// Lines are read whole so the signature is seen on lines of any length
	reader := bufio.NewReader(pr)
	for {
		raw, readErr := reader.ReadString('\n')
		if line := strings.TrimRight(raw, "\r\n"); raw != "" && !denied {
			if strings.Contains(line, PermissionDeniedSignature) {
				denied = true
				cancel()
			} else {
				tail.add(line)
				if strings.TrimSpace(line) != "" {
					sink.Step(svc.Key, line)
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Warn("Failed to read command output", "command", command, "error", readErr)
			}
			break
		}
	}
	// Keep draining so the process can exit
	io.Copy(io.Discard, pr)

	waitErr := <-waitCh

	if denied {
		log.Warn("Remote command killed on permission denied", "command", command)
		return ErrPermissionDenied
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s %s", ErrTimeout, e.cfg.Timeout, svc.ContainerName, command)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &RemoteCommandError{
				Container: svc.ContainerName,
				Command:   command,
				ExitCode:  exitErr.ExitCode(),
				Output:    tail.String(),
			}
		}
		return fmt.Errorf("%s %s: %w", svc.ContainerName, command, waitErr)
	}

	sink.Step(svc.Key, fmt.Sprintf("%s %s ended.", svc.ContainerName, command))
	return nil
}

// Exec runs cmd directly in a container without nester and returns its output
func (e *Executor) Exec(ctx context.Context, container string, cmd ...string) (string, error) {
	if e.direct == nil {
		return "", fmt.Errorf("direct container exec is not configured")
	}

	runCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	out, err := e.direct.ExecCommand(runCtx, container, cmd)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return out, fmt.Errorf("%w after %s: %s", ErrTimeout, e.cfg.Timeout, strings.Join(cmd, " "))
	}
	if err != nil && strings.Contains(out, PermissionDeniedSignature) {
		return out, ErrPermissionDenied
	}
	return out, err
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// tail keeps the last n lines written to it
type tail struct {
	lines []string
	n     int
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	return strings.Join(t.lines, "\n")
}
