package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// OutputFormat represents the progress output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ProgressSink receives the progress of an operation. Subject names the
// service a line belongs to and is empty for operation-wide lines.
// Implementations must be safe for concurrent use.
type ProgressSink interface {
	Start(operation string)
	Step(subject, message string)
	Fail(subject, message string)
	End(operation string, err error)
}

// ProgressReporter writes progress lines to a terminal or a log collector
type ProgressReporter struct {
	format OutputFormat
	out    io.Writer
	logger *Logger
	mutex  sync.Mutex
	start  time.Time
}

// NewProgressReporter creates a new progress reporter writing to stdout
func NewProgressReporter(format OutputFormat, logger *Logger) *ProgressReporter {
	return NewProgressReporterTo(os.Stdout, format, logger)
}

// NewProgressReporterTo creates a progress reporter writing to out
func NewProgressReporterTo(out io.Writer, format OutputFormat, logger *Logger) *ProgressReporter {
	if logger == nil {
		logger = NopLogger()
	}
	return &ProgressReporter{
		format: format,
		out:    out,
		logger: logger,
	}
}

// Start reports that an operation started
func (pr *ProgressReporter) Start(operation string) {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	pr.start = time.Now()
	switch pr.format {
	case FormatJSON:
		pr.emit(map[string]interface{}{
			"event":     "operation_started",
			"operation": operation,
		})
	default:
		fmt.Fprintf(pr.out, "🚀 %s\n", operation)
	}
}

// Step reports a progress line
func (pr *ProgressReporter) Step(subject, message string) {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	pr.logger.Debug(message, "subject", subject)
	switch pr.format {
	case FormatJSON:
		pr.emit(map[string]interface{}{
			"event":   "step",
			"subject": subject,
			"message": message,
		})
	default:
		if subject == "" {
			fmt.Fprintf(pr.out, "   %s\n", message)
		} else {
			fmt.Fprintf(pr.out, "   [%s] %s\n", subject, message)
		}
	}
}

// Fail reports a failure line
func (pr *ProgressReporter) Fail(subject, message string) {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	pr.logger.Debug("step failed", "subject", subject, "reason", message)
	switch pr.format {
	case FormatJSON:
		pr.emit(map[string]interface{}{
			"event":   "step_failed",
			"subject": subject,
			"message": message,
		})
	default:
		if subject == "" {
			fmt.Fprintf(pr.out, "   ❌ %s\n", message)
		} else {
			fmt.Fprintf(pr.out, "   ❌ [%s] %s\n", subject, message)
		}
	}
}

// End reports that an operation finished
func (pr *ProgressReporter) End(operation string, err error) {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	elapsed := time.Since(pr.start).Round(time.Millisecond)
	switch pr.format {
	case FormatJSON:
		event := map[string]interface{}{
			"event":     "operation_ended",
			"operation": operation,
			"success":   err == nil,
			"elapsed":   elapsed.String(),
		}
		if err != nil {
			event["error"] = err.Error()
		}
		pr.emit(event)
	default:
		if err != nil {
			fmt.Fprintf(pr.out, "❌ %s failed after %s: %v\n", operation, elapsed, err)
		} else {
			fmt.Fprintf(pr.out, "✅ %s done in %s\n", operation, elapsed)
		}
	}
}

func (pr *ProgressReporter) emit(event map[string]interface{}) {
	event["timestamp"] = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		pr.logger.Error("Failed to marshal progress event", "error", err)
		return
	}
	fmt.Fprintln(pr.out, string(data))
}

// ProgressLine is one recorded progress event
type ProgressLine struct {
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
	Failed  bool   `json:"failed,omitempty"`
}

// MemorySink records progress in memory
type MemorySink struct {
	mutex      sync.Mutex
	lines      []ProgressLine
	operations []string
	ended      map[string]error
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{ended: make(map[string]error)}
}

// Start records an operation start
func (m *MemorySink) Start(operation string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.operations = append(m.operations, operation)
}

// Step records a progress line
func (m *MemorySink) Step(subject, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lines = append(m.lines, ProgressLine{Subject: subject, Message: message})
}

// Fail records a failure line
func (m *MemorySink) Fail(subject, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lines = append(m.lines, ProgressLine{Subject: subject, Message: message, Failed: true})
}

// End records an operation end
func (m *MemorySink) End(operation string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ended[operation] = err
}

// Lines returns a copy of the recorded lines
func (m *MemorySink) Lines() []ProgressLine {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]ProgressLine, len(m.lines))
	copy(out, m.lines)
	return out
}

// LinesFor returns the recorded lines of one subject
func (m *MemorySink) LinesFor(subject string) []ProgressLine {
	out := make([]ProgressLine, 0)
	for _, line := range m.Lines() {
		if line.Subject == subject {
			out = append(out, line)
		}
	}
	return out
}

// Ended reports whether the operation ended and with which error
func (m *MemorySink) Ended(operation string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	err, ok := m.ended[operation]
	return ok, err
}

// Tee fans progress out to several sinks
type Tee []ProgressSink

// Start forwards to every sink
func (t Tee) Start(operation string) {
	for _, s := range t {
		s.Start(operation)
	}
}

// Step forwards to every sink
func (t Tee) Step(subject, message string) {
	for _, s := range t {
		s.Step(subject, message)
	}
}

// Fail forwards to every sink
func (t Tee) Fail(subject, message string) {
	for _, s := range t {
		s.Fail(subject, message)
	}
}

// End forwards to every sink
func (t Tee) End(operation string, err error) {
	for _, s := range t {
		s.End(operation, err)
	}
}
