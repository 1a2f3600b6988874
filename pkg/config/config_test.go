package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/tmp/console_cmd", cfg.Docker.NesterLog)
	assert.Equal(t, 30*time.Minute, cfg.Execution.CommandTimeout)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("NEST_TEST_COMPOSE", "docker-compose-v1")

	path := filepath.Join(t.TempDir(), FileName)
	content := `
docker:
  compose_binary: ${NEST_TEST_COMPOSE}
  port_backend: sdk
execution:
  command_timeout: 90s
topology:
  view_ports:
    storage-postgres: 8081
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "docker-compose-v1", cfg.Docker.ComposeBinary)
	assert.Equal(t, "sdk", cfg.Docker.PortBackend)
	assert.Equal(t, 90*time.Second, cfg.Execution.CommandTimeout)
	assert.Equal(t, 8081, cfg.Topology.ViewPorts["storage-postgres"])
	// Untouched sections keep defaults
	assert.Equal(t, "docker", cfg.Docker.Binary)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := DefaultConfig()
	cfg.Reporting.KeepLastN = 3

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Reporting.KeepLastN)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"port backend":  func(c *Config) { c.Docker.PortBackend = "ssh" },
		"output format": func(c *Config) { c.Framework.OutputFormat = "tui" },
		"view port":     func(c *Config) { c.Topology.ViewPorts["x"] = 70000 },
		"git version":   func(c *Config) { c.Git.MinVersion = "two" },
		"nester":        func(c *Config) { c.Docker.NesterBinary = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
