// Package emergency cancels a running operation on SIGINT/SIGTERM or when a
// stop file appears.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/inkton/nester-develop/pkg/reporting"
)

// ErrStopped is the cancellation cause of a stopped operation
var ErrStopped = errors.New("operation stopped")

// Controller watches for stop requests and cancels the operation context
type Controller struct {
	stopFile       string
	pollInterval   time.Duration
	signalHandlers bool
	logger         *reporting.Logger

	mutex     sync.RWMutex
	stopCh    chan struct{}
	stopped   bool
	reason    string
	callbacks []func(reason string)
}

// Config contains emergency controller configuration
type Config struct {
	// StopFile is the path to watch
	StopFile string

	// PollInterval for checking the stop file
	PollInterval time.Duration

	// EnableSignalHandlers enables SIGINT/SIGTERM handling
	EnableSignalHandlers bool
}

// New creates a new emergency controller
func New(config Config, logger *reporting.Logger) *Controller {
	if config.StopFile == "" {
		config.StopFile = "/tmp/nest-stop"
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if logger == nil {
		logger = reporting.NopLogger()
	}

	return &Controller{
		stopFile:       config.StopFile,
		pollInterval:   config.PollInterval,
		signalHandlers: config.EnableSignalHandlers,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start begins watching and returns a context cancelled with ErrStopped as
// cause when a stop is triggered. The watchers exit with ctx.
func (c *Controller) Start(ctx context.Context) context.Context {
	stopCtx, cancel := context.WithCancelCause(ctx)
	c.OnStop(func(reason string) {
		cancel(fmt.Errorf("%w: %s", ErrStopped, reason))
	})

	go c.watchStopFile(stopCtx)
	if c.signalHandlers {
		go c.watchSignals(stopCtx)
	}

	return stopCtx
}

func (c *Controller) watchStopFile(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.checkStopFile() {
				c.logger.Warn("Stop file detected", "path", c.stopFile)
				c.triggerStop("stop file detected")
				return
			}
		}
	}
}

func (c *Controller) watchSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		c.logger.Warn("Stop signal received", "signal", sig.String())
		c.triggerStop(fmt.Sprintf("signal: %v", sig))
	}
}

func (c *Controller) checkStopFile() bool {
	_, err := os.Stat(c.stopFile)
	return err == nil
}

func (c *Controller) triggerStop(reason string) {
	c.mutex.Lock()
	if c.stopped {
		c.mutex.Unlock()
		return
	}
	c.stopped = true
	c.reason = reason
	close(c.stopCh)
	callbacks := append([]func(string){}, c.callbacks...)
	c.mutex.Unlock()

	c.logger.Warn("Stopping operation", "reason", reason)

	for _, callback := range callbacks {
		callback(reason)
	}
}

// Stop triggers a stop manually
func (c *Controller) Stop(reason string) {
	c.triggerStop(reason)
}

// IsStopped returns true once a stop has been triggered
func (c *Controller) IsStopped() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stopped
}

// Reason returns why the operation was stopped
func (c *Controller) Reason() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.reason
}

// StopChannel returns a channel that closes when a stop is triggered
func (c *Controller) StopChannel() <-chan struct{} {
	return c.stopCh
}

// OnStop registers a callback run once when a stop is triggered
func (c *Controller) OnStop(callback func(reason string)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// CreateStopFile requests a stop of the operation watching the same file
func (c *Controller) CreateStopFile() error {
	content := fmt.Sprintf("Stop requested at %s\n", time.Now().Format(time.RFC3339))
	if err := os.WriteFile(c.stopFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create stop file: %w", err)
	}
	return nil
}

// RemoveStopFile removes the stop file
func (c *Controller) RemoveStopFile() error {
	err := os.Remove(c.stopFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stop file: %w", err)
	}
	return nil
}

// StopFilePath returns the watched path
func (c *Controller) StopFilePath() string {
	return c.stopFile
}
