// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Host-key policies, passed verbatim as ssh's StrictHostKeyChecking.
const (
	// HostKeyAcceptAny accepts unknown and changed host keys. This
	// gives up first-connection authenticity and man-in-the-middle
	// detection in exchange for unattended automation.
	HostKeyAcceptAny = "no"

	// HostKeyAcceptNew records unknown keys but rejects changed ones.
	HostKeyAcceptNew = "accept-new"

	// HostKeyStrict requires the key to be in known_hosts already.
	HostKeyStrict = "yes"
)

// Config is the complete agentrelay configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	Paths   PathsConfig   `yaml:"paths" json:"paths"`
	Agent   AgentConfig   `yaml:"agent" json:"agent"`
	Remote  RemoteConfig  `yaml:"remote" json:"remote"`
	Jobs    JobsConfig    `yaml:"jobs" json:"jobs"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Per-environment overrides, applied after the base values.
	Development *ConfigOverrides `yaml:"development,omitempty" json:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty" json:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// ConfigOverrides holds the sections an environment may override.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty" json:"paths,omitempty"`
	Agent   *AgentConfig   `yaml:"agent,omitempty" json:"agent,omitempty"`
	Remote  *RemoteConfig  `yaml:"remote,omitempty" json:"remote,omitempty"`
	Jobs    *JobsConfig    `yaml:"jobs,omitempty" json:"jobs,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for agentrelay's own state.
	Root string `yaml:"root" json:"root"`

	// Socket is the Unix socket the service listens on.
	Socket string `yaml:"socket" json:"socket"`

	// ConversationDB is the SQLite store shared with the editor. It
	// holds the cursorDiskKV table.
	ConversationDB string `yaml:"conversation_db" json:"conversation_db"`

	// DeviceDB holds the device registry and remote-chat bindings.
	DeviceDB string `yaml:"device_db" json:"device_db"`

	// Transcripts is where raw agent output is archived. Empty
	// disables archiving.
	Transcripts string `yaml:"transcripts" json:"transcripts"`
}

// AgentConfig configures the local agent invocation.
type AgentConfig struct {
	// Binary is the agent executable for local dispatch.
	Binary string `yaml:"binary" json:"binary"`

	// DefaultModel is used when a request names no model.
	DefaultModel string `yaml:"default_model" json:"default_model"`

	// SyncTimeout bounds synchronous requests.
	SyncTimeout Duration `yaml:"sync_timeout" json:"sync_timeout"`

	// AsyncTimeout bounds background jobs.
	AsyncTimeout Duration `yaml:"async_timeout" json:"async_timeout"`
}

// RemoteConfig configures ssh dispatch.
type RemoteConfig struct {
	// SSHBinary is the ssh client executable.
	SSHBinary string `yaml:"ssh_binary" json:"ssh_binary"`

	// ConnectTimeout is passed as ssh's ConnectTimeout.
	ConnectTimeout Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// CommandTimeout bounds a remote dispatch end to end.
	CommandTimeout Duration `yaml:"command_timeout" json:"command_timeout"`

	// DefaultAgentPath is used for devices without their own agent
	// path. It is expanded by the remote shell, so "~" refers to the
	// remote home directory.
	DefaultAgentPath string `yaml:"default_agent_path" json:"default_agent_path"`

	// HostKeyPolicy is ssh's StrictHostKeyChecking value: "no",
	// "accept-new", or "yes". "no" accepts any host key, which lets
	// dispatch run unattended against fresh devices but means a
	// network attacker can impersonate a device undetected. Prefer
	// "accept-new" or "yes" wherever devices can be enrolled by hand.
	HostKeyPolicy string `yaml:"host_key_policy" json:"host_key_policy"`

	// KnownHostsFile overrides ssh's UserKnownHostsFile when set.
	KnownHostsFile string `yaml:"known_hosts_file" json:"known_hosts_file"`
}

// JobsConfig configures job retention.
type JobsConfig struct {
	// Retention is how long a terminal job stays queryable.
	Retention Duration `yaml:"retention" json:"retention"`

	// ReapInterval is how often terminal jobs are swept.
	ReapInterval Duration `yaml:"reap_interval" json:"reap_interval"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used as the base for every file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:           "${HOME}/.cache/agentrelay",
			Socket:         "${AGENTRELAY_ROOT}/agentrelay.sock",
			ConversationDB: "${HOME}/Library/Application Support/Cursor/User/globalStorage/state.vscdb",
			DeviceDB:       "${AGENTRELAY_ROOT}/devices.db",
		},
		Agent: AgentConfig{
			Binary:       "${HOME}/.local/bin/cursor-agent",
			DefaultModel: agentcmd.DefaultModel,
			SyncTimeout:  Duration(90 * time.Second),
			AsyncTimeout: Duration(120 * time.Second),
		},
		Remote: RemoteConfig{
			SSHBinary:        "ssh",
			ConnectTimeout:   Duration(10 * time.Second),
			CommandTimeout:   Duration(120 * time.Second),
			DefaultAgentPath: "~/.local/bin/cursor-agent",
		},
		Jobs: JobsConfig{
			Retention:    Duration(time.Hour),
			ReapInterval: Duration(30 * time.Minute),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Resolved returns Default with environment defaults applied and
// variables expanded, for callers that run without a file.
func Resolved() *Config {
	cfg := Default()
	cfg.applyHostKeyDefault()
	cfg.expandVariables()
	return cfg
}

// Load loads the file named by AGENTRELAY_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("AGENTRELAY_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("AGENTRELAY_CONFIG environment variable not set; " +
			"set it to the path of your agentrelay.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads, overrides, and expands the configuration at path. It
// does not validate; call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.applyHostKeyDefault()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		overrideString(&c.Paths.Root, paths.Root)
		overrideString(&c.Paths.Socket, paths.Socket)
		overrideString(&c.Paths.ConversationDB, paths.ConversationDB)
		overrideString(&c.Paths.DeviceDB, paths.DeviceDB)
		overrideString(&c.Paths.Transcripts, paths.Transcripts)
	}
	if agent := overrides.Agent; agent != nil {
		overrideString(&c.Agent.Binary, agent.Binary)
		overrideString(&c.Agent.DefaultModel, agent.DefaultModel)
		overrideDuration(&c.Agent.SyncTimeout, agent.SyncTimeout)
		overrideDuration(&c.Agent.AsyncTimeout, agent.AsyncTimeout)
	}
	if remote := overrides.Remote; remote != nil {
		overrideString(&c.Remote.SSHBinary, remote.SSHBinary)
		overrideDuration(&c.Remote.ConnectTimeout, remote.ConnectTimeout)
		overrideDuration(&c.Remote.CommandTimeout, remote.CommandTimeout)
		overrideString(&c.Remote.DefaultAgentPath, remote.DefaultAgentPath)
		overrideString(&c.Remote.HostKeyPolicy, remote.HostKeyPolicy)
		overrideString(&c.Remote.KnownHostsFile, remote.KnownHostsFile)
	}
	if jobs := overrides.Jobs; jobs != nil {
		overrideDuration(&c.Jobs.Retention, jobs.Retention)
		overrideDuration(&c.Jobs.ReapInterval, jobs.ReapInterval)
	}
	if logging := overrides.Logging; logging != nil {
		overrideString(&c.Logging.Level, logging.Level)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overrideDuration(target *Duration, value Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) applyHostKeyDefault() {
	if c.Remote.HostKeyPolicy != "" {
		return
	}
	if c.Environment == Production {
		c.Remote.HostKeyPolicy = HostKeyAcceptNew
	} else {
		c.Remote.HostKeyPolicy = HostKeyAcceptAny
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"AGENTRELAY_ROOT": c.Paths.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["AGENTRELAY_ROOT"] = c.Paths.Root

	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Paths.ConversationDB = expandVars(c.Paths.ConversationDB, vars)
	c.Paths.DeviceDB = expandVars(c.Paths.DeviceDB, vars)
	c.Paths.Transcripts = expandVars(c.Paths.Transcripts, vars)
	c.Agent.Binary = expandVars(c.Agent.Binary, vars)
	c.Remote.SSHBinary = expandVars(c.Remote.SSHBinary, vars)
	c.Remote.KnownHostsFile = expandVars(c.Remote.KnownHostsFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Values in vars win
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	required := []struct {
		name  string
		value string
	}{
		{"paths.root", c.Paths.Root},
		{"paths.socket", c.Paths.Socket},
		{"paths.conversation_db", c.Paths.ConversationDB},
		{"paths.device_db", c.Paths.DeviceDB},
		{"agent.binary", c.Agent.Binary},
		{"remote.ssh_binary", c.Remote.SSHBinary},
		{"remote.default_agent_path", c.Remote.DefaultAgentPath},
	}
	for _, field := range required {
		if field.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", field.name))
		}
	}

	if err := agentcmd.ValidateModel(c.Agent.DefaultModel); err != nil {
		errs = append(errs, fmt.Errorf("agent.default_model: %w", err))
	}

	positive := []struct {
		name  string
		value Duration
	}{
		{"agent.sync_timeout", c.Agent.SyncTimeout},
		{"agent.async_timeout", c.Agent.AsyncTimeout},
		{"remote.connect_timeout", c.Remote.ConnectTimeout},
		{"remote.command_timeout", c.Remote.CommandTimeout},
		{"jobs.retention", c.Jobs.Retention},
		{"jobs.reap_interval", c.Jobs.ReapInterval},
	}
	for _, field := range positive {
		if field.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.name, field.value))
		}
	}

	switch c.Remote.HostKeyPolicy {
	case HostKeyAcceptAny, HostKeyAcceptNew, HostKeyStrict:
	default:
		errs = append(errs, fmt.Errorf("remote.host_key_policy must be one of %q, %q, %q; got %q",
			HostKeyAcceptAny, HostKeyAcceptNew, HostKeyStrict, c.Remote.HostKeyPolicy))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the root directory, the transcript directory,
// and the parent directories of the socket and device database.
func (c *Config) EnsurePaths() error {
	directories := []string{
		c.Paths.Root,
		c.Paths.Transcripts,
		filepath.Dir(c.Paths.Socket),
		filepath.Dir(c.Paths.DeviceDB),
	}
	for _, directory := range directories {
		if directory == "" || directory == "." {
			continue
		}
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
