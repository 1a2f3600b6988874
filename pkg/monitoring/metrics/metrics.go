// Package metrics records orchestration counters and timings and exposes them
// as a Prometheus textfile.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the collectors of one process. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stagesTotal      *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	pipelinesTotal   *prometheus.CounterVec
	commandsTotal    *prometheus.CounterVec
	operationsTotal  *prometheus.CounterVec
	lastOperationEnd *prometheus.GaugeVec
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nest_stage_total",
				Help: "Number of pipeline stages run, by stage and result.",
			},
			[]string{"stage", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nest_stage_duration_seconds",
				Help:    "Time taken by a pipeline stage.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage"},
		),
		pipelinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nest_pipeline_total",
				Help: "Number of per-service pipelines run, by pipeline and result.",
			},
			[]string{"pipeline", "result"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nest_remote_command_total",
				Help: "Number of remote nester commands, by command and result.",
			},
			[]string{"command", "result"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nest_operation_total",
				Help: "Number of top-level operations, by operation and result.",
			},
			[]string{"operation", "result"},
		),
		lastOperationEnd: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nest_operation_last_end_timestamp_seconds",
				Help: "Unix time the operation last ended.",
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		m.stagesTotal,
		m.stageDuration,
		m.pipelinesTotal,
		m.commandsTotal,
		m.operationsTotal,
		m.lastOperationEnd,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveStage records one stage run
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.stagesTotal.WithLabelValues(stage, result(err)).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObservePipeline records one settled pipeline
func (m *Metrics) ObservePipeline(pipeline string, err error) {
	if m == nil {
		return
	}
	m.pipelinesTotal.WithLabelValues(pipeline, result(err)).Inc()
}

// ObserveCommand records one remote command
func (m *Metrics) ObserveCommand(command string, err error) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, result(err)).Inc()
}

// ObserveOperation records one top-level operation
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, result(err)).Inc()
	m.lastOperationEnd.WithLabelValues(operation).SetToCurrentTime()
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Write encodes all metrics in the Prometheus text format
func (m *Metrics) Write(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile writes the metrics for a node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}

	if err := m.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close metrics file: %w", err)
	}

	return os.Rename(tmp, path)
}
