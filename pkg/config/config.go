package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// FileName is the default configuration file looked up in the workspace root
const FileName = "nest.yaml"

// Config represents the nest tool configuration
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Docker    DockerConfig    `yaml:"docker"`
	Execution ExecutionConfig `yaml:"execution"`
	Topology  TopologyConfig  `yaml:"topology"`
	Reporting ReportingConfig `yaml:"reporting"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Git       GitConfig       `yaml:"git"`
	CI        CIConfig        `yaml:"ci"`
}

// FrameworkConfig contains general settings
type FrameworkConfig struct {
	Version      string `yaml:"version"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OutputFormat string `yaml:"output_format"`
}

// DockerConfig contains container runtime settings
type DockerConfig struct {
	Binary        string `yaml:"binary"`
	ComposeBinary string `yaml:"compose_binary"`
	MachineBinary string `yaml:"machine_binary"`
	NesterBinary  string `yaml:"nester_binary"`
	NesterLog     string `yaml:"nester_log"`

	// PortBackend selects how port bindings are queried: cli or sdk
	PortBackend string `yaml:"port_backend"`
}

// ExecutionConfig contains timeouts
type ExecutionConfig struct {
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	ComposeTimeout   time.Duration `yaml:"compose_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// TopologyConfig contains service discovery settings
type TopologyConfig struct {
	// ViewPorts adds or overrides the container port queried per service key
	ViewPorts map[string]int `yaml:"view_ports"`
}

// ReportingConfig contains run report and metrics settings
type ReportingConfig struct {
	OutputDir       string `yaml:"output_dir"`
	KeepLastN       int    `yaml:"keep_last_n"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// EmergencyConfig contains stop settings
type EmergencyConfig struct {
	StopFile     string        `yaml:"stop_file"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// GitConfig contains git integration settings
type GitConfig struct {
	Binary     string `yaml:"binary"`
	MinVersion string `yaml:"min_version"`
	HostSuffix string `yaml:"host_suffix"`
	Remote     string `yaml:"remote"`
}

// CIConfig contains the CI/CD trigger settings
type CIConfig struct {
	JobURL string `yaml:"job_url"`
	CIJob  string `yaml:"ci_job"`
	CDJob  string `yaml:"cd_job"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			Version:      "v1",
			LogLevel:     "info",
			LogFormat:    "text",
			OutputFormat: "text",
		},
		Docker: DockerConfig{
			Binary:        "docker",
			ComposeBinary: "docker-compose",
			MachineBinary: "docker-machine",
			NesterBinary:  "nester",
			NesterLog:     "/tmp/console_cmd",
			PortBackend:   "cli",
		},
		Execution: ExecutionConfig{
			CommandTimeout:   30 * time.Minute,
			ComposeTimeout:   10 * time.Minute,
			OperationTimeout: 0,
		},
		Topology: TopologyConfig{
			ViewPorts: map[string]int{},
		},
		Reporting: ReportingConfig{
			OutputDir: ".nest/runs",
			KeepLastN: 20,
		},
		Emergency: EmergencyConfig{
			StopFile:     "/tmp/nest-stop",
			PollInterval: 1 * time.Second,
		},
		Git: GitConfig{
			Binary:     "git",
			MinVersion: "2.10.0",
			HostSuffix: "nestapp.yt",
			Remote:     "nest:repository.git",
		},
		CI: CIConfig{
			JobURL: "http://127.0.0.1:8080/job/%s/build?token=nesty",
			CIJob:  "Local-CI",
			CDJob:  "Remote-Cd",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FileName
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(expandedData, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Topology.ViewPorts == nil {
		cfg.Topology.ViewPorts = map[string]int{}
	}

	return cfg, nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Docker.Binary == "" {
		return fmt.Errorf("docker.binary is required")
	}

	if c.Docker.ComposeBinary == "" {
		return fmt.Errorf("docker.compose_binary is required")
	}

	if c.Docker.NesterBinary == "" {
		return fmt.Errorf("docker.nester_binary is required")
	}

	switch c.Docker.PortBackend {
	case "cli", "sdk":
	default:
		return fmt.Errorf("docker.port_backend must be cli or sdk, got %q", c.Docker.PortBackend)
	}

	switch c.Framework.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("framework.output_format must be text or json, got %q", c.Framework.OutputFormat)
	}

	if c.Execution.CommandTimeout < 0 || c.Execution.OperationTimeout < 0 || c.Execution.ComposeTimeout < 0 {
		return fmt.Errorf("execution timeouts must not be negative")
	}

	for key, port := range c.Topology.ViewPorts {
		if port < 1 || port > 65535 {
			return fmt.Errorf("topology.view_ports.%s: port %d out of range", key, port)
		}
	}

	if c.Git.MinVersion != "" {
		if _, err := semver.NewVersion(c.Git.MinVersion); err != nil {
			return fmt.Errorf("git.min_version: %w", err)
		}
	}

	if c.Reporting.KeepLastN < 0 {
		return fmt.Errorf("reporting.keep_last_n must not be negative")
	}

	return nil
}
