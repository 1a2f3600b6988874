package metrics

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCounts(t *testing.T) {
	m := New()

	m.ObserveStage("BUILDING", 2*time.Second, nil)
	m.ObserveStage("BUILDING", time.Second, errors.New("exit 1"))
	m.ObservePipeline("provisioning", nil)
	m.ObserveCommand("deployment build", errors.New("exit 1"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stagesTotal.WithLabelValues("BUILDING", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stagesTotal.WithLabelValues("BUILDING", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelinesTotal.WithLabelValues("provisioning", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("deployment build", "failure")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("ATTACHING", time.Second, nil)
	m.ObservePipeline("discovery", nil)
	m.ObserveOperation("reset", nil)
	assert.NoError(t, m.WriteTextfile("/nonexistent/metrics.prom"))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveOperation("scaffold", nil)

	path := filepath.Join(t.TempDir(), "textfile", "nest.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nest_operation_total{operation="scaffold",result="success"} 1`)

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf))
	assert.Contains(t, buf.String(), "# TYPE nest_operation_total counter")
}
