package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/runtrail/pkg/runid"
)

// Config is the runtrail file/env configuration.
type Config struct {
	BaseDir      string `yaml:"base_dir" mapstructure:"base_dir"`
	Stage        string `yaml:"stage" mapstructure:"stage"`
	Digest       string `yaml:"digest" mapstructure:"digest"`
	UniqueSuffix bool   `yaml:"unique_suffix" mapstructure:"unique_suffix"`

	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Per-command overrides, keyed by command name
	Commands map[string]CommandConfig `yaml:"commands,omitempty" mapstructure:"commands"`
}

// LogConfig controls the console sink every command forwards to.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json" mapstructure:"json"`
	File  string `yaml:"file,omitempty" mapstructure:"file"` // directory for a component log file
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // listen address for `runtrail serve`
}

// CommandConfig overrides settings for a single command.
type CommandConfig struct {
	Stage string `yaml:"stage,omitempty" mapstructure:"stage"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Load reads a YAML config file and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults sets every empty field to its default.
func (c *Config) ApplyDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	if c.Stage == "" {
		c.Stage = "dev"
	}
	if c.Digest == "" {
		c.Digest = string(runid.DigestSHA256)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "runtrail"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9464"
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string

	if c.BaseDir == "" {
		problems = append(problems, "base_dir is required")
	}
	if !validSegment(c.Stage) {
		problems = append(problems, fmt.Sprintf("stage %q must be a single path segment", c.Stage))
	}
	if _, err := runid.ParseDigest(c.Digest); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		problems = append(problems, "tracing.endpoint is required when tracing is enabled")
	}
	for name, cmd := range c.Commands {
		if cmd.Stage != "" && !validSegment(cmd.Stage) {
			problems = append(problems, fmt.Sprintf("commands.%s.stage %q must be a single path segment", name, cmd.Stage))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// StageFor returns the stage a command runs under, honouring overrides.
func (c *Config) StageFor(command string) string {
	if cmd, ok := c.Commands[command]; ok && cmd.Stage != "" {
		return cmd.Stage
	}
	return c.Stage
}

// DigestAlgorithm returns the parsed digest, falling back to sha256.
func (c *Config) DigestAlgorithm() runid.Digest {
	d, err := runid.ParseDigest(c.Digest)
	if err != nil {
		return runid.DigestSHA256
	}
	return d
}

// YAML renders the configuration as it would be written to a file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// ExampleConfig is printed by `runtrail config example`.
const ExampleConfig = `# runtrail configuration

# Runs land in <base_dir>/__tmp__/<stage>/<command>
base_dir: "."
stage: "dev"

# Input digest: sha256 (default) or blake2b
digest: "sha256"

# Append a random segment to run prefixes so identical inputs
# in the same second never share files
unique_suffix: false

log:
  level: "info"   # debug, info, warn, error
  json: false
  file: ""        # directory for runtrail.log; empty = console only

tracing:
  enabled: false
  endpoint: "localhost:4318"
  service_name: "runtrail"

metrics:
  addr: ":9464"   # listen address for runtrail serve

# Per-command overrides
commands:
  sysinfo:
    stage: "ops"
`
