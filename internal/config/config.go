// Package config provides configuration management for the claude-mem bridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/mattn/go-shellwords"
	"github.com/tidwall/jsonc"
)

const (
	// DefaultWorkerHost is the loopback address the worker binds to.
	DefaultWorkerHost = "127.0.0.1"

	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 37777

	// DefaultProxyPort is the default port of the search proxy.
	DefaultProxyPort = 37778

	// DefaultFallbackPortCount is how many consecutive ports are tried, preferred port included.
	DefaultFallbackPortCount = 20

	// DefaultStartupTimeoutMs bounds EnsureStarted when the caller passes no timeout.
	DefaultStartupTimeoutMs = 10000

	// DefaultProjectName is used when the working directory has no usable basename.
	DefaultProjectName = "claude-mem"
)

// Environment variables recognised by Load.
const (
	EnvWorkerHost     = "CLAUDE_MEM_WORKER_HOST"
	EnvWorkerPort     = "CLAUDE_MEM_WORKER_PORT"
	EnvDataDir        = "CLAUDE_MEM_DATA_DIR"
	EnvProxyHost      = "CLAUDE_MEM_PROXY_HOST"
	EnvProxyPort      = "CLAUDE_MEM_PROXY_PORT"
	EnvWorkerCommand  = "CLAUDE_MEM_WORKER_COMMAND"
	EnvPortFallback   = "CLAUDE_MEM_PORT_FALLBACK"
	EnvStartupTimeout = "CLAUDE_MEM_STARTUP_TIMEOUT_MS"
	EnvExcludedTools  = "CLAUDE_MEM_EXCLUDED_TOOLS"
	EnvManaged        = "CLAUDE_MEM_MANAGED"
)

// DefaultExcludedTools are tool names whose executions are never recorded.
// The memory tools themselves are in the list so searches don't feed back into storage.
var DefaultExcludedTools = []string{
	"ListMcpResourcesTool",
	"SlashCommand",
	"Skill",
	"TodoWrite",
	"AskUserQuestion",
	"search",
	"timeline",
	"get_observations",
	"save_memory",
	"__IMPORTANT",
}

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerHost       string   `json:"worker_host" yaml:"worker_host"`
	WorkerPort       int      `json:"worker_port" yaml:"worker_port"`
	WorkerCommand    []string `json:"worker_command" yaml:"worker_command"`
	PortFallback     bool     `json:"port_fallback" yaml:"port_fallback"`
	FallbackPorts    int      `json:"fallback_ports" yaml:"fallback_ports"`
	StartupTimeoutMs int      `json:"startup_timeout_ms" yaml:"startup_timeout_ms"`

	// Search proxy settings
	ProxyHost string `json:"proxy_host" yaml:"proxy_host"`
	ProxyPort int    `json:"proxy_port" yaml:"proxy_port"`

	// Database settings
	DataDir string `json:"data_dir" yaml:"data_dir"`
	DBPath  string `json:"db_path" yaml:"db_path"`

	// Session relay settings
	ExcludedTools []string `json:"excluded_tools" yaml:"excluded_tools"`
	SessionCap    int      `json:"session_cap" yaml:"session_cap"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.claude-mem unless overridden).
func DataDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvDataDir)); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude-mem")
}

// DBPath returns the database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "claude-mem.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// DefaultWorkerScript is where the upstream installer places the worker bundle.
func DefaultWorkerScript() string {
	return filepath.Join(DataDir(), "plugin", "scripts", "worker-service.cjs")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  // Port the worker listens on; neighbours are tried when it is taken.
  "CLAUDE_MEM_WORKER_PORT": 37777,
  "CLAUDE_MEM_PROXY_PORT": 37778
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerHost:       DefaultWorkerHost,
		WorkerPort:       DefaultWorkerPort,
		WorkerCommand:    []string{"bun", DefaultWorkerScript()},
		PortFallback:     true,
		FallbackPorts:    DefaultFallbackPortCount,
		StartupTimeoutMs: DefaultStartupTimeoutMs,
		ProxyHost:        DefaultWorkerHost,
		ProxyPort:        DefaultProxyPort,
		DataDir:          DataDir(),
		DBPath:           DBPath(),
		ExcludedTools:    append([]string(nil), DefaultExcludedTools...),
		SessionCap:       256,
	}
}

// Load builds the configuration from defaults, then the settings file, then the environment.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		if perr := cfg.applySettings(data); perr != nil {
			return nil, perr
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if err := cfg.applySettingsMap(envSettings()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySettings merges a settings.json document. Comments and trailing commas are tolerated.
func (c *Config) applySettings(data []byte) error {
	var settings map[string]interface{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	return c.applySettingsMap(settings)
}

func envSettings() map[string]interface{} {
	out := make(map[string]interface{})
	for _, key := range []string{
		EnvWorkerHost, EnvWorkerPort, EnvProxyHost, EnvProxyPort,
		EnvWorkerCommand, EnvPortFallback, EnvStartupTimeout, EnvExcludedTools,
	} {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			out[key] = v
		}
	}
	return out
}

func (c *Config) applySettingsMap(settings map[string]interface{}) error {
	if v, ok := settings[EnvWorkerHost].(string); ok && v != "" {
		c.WorkerHost = v
	}
	if v, ok := intSetting(settings[EnvWorkerPort]); ok && validPort(v) {
		c.WorkerPort = v
	}
	if v, ok := settings[EnvProxyHost].(string); ok && v != "" {
		c.ProxyHost = v
	}
	if v, ok := intSetting(settings[EnvProxyPort]); ok && validPort(v) {
		c.ProxyPort = v
	}
	if v, ok := settings[EnvWorkerCommand].(string); ok && v != "" {
		args, err := shellwords.Parse(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvWorkerCommand, err)
		}
		if len(args) > 0 {
			c.WorkerCommand = args
		}
	}
	if v, ok := boolSetting(settings[EnvPortFallback]); ok {
		c.PortFallback = v
	}
	if v, ok := intSetting(settings[EnvStartupTimeout]); ok && v > 0 {
		c.StartupTimeoutMs = v
	}
	if v, ok := settings[EnvExcludedTools].(string); ok {
		c.ExcludedTools = splitTrim(v)
	}
	return nil
}

// intSetting accepts JSON numbers and numeric strings.
func intSetting(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func boolSetting(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}

// splitTrim splits a comma-separated string and trims whitespace.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Reload re-reads the configuration and replaces the global copy.
// The previous configuration stays in place if loading fails.
func Reload() (*Config, error) {
	Get()
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// WorkerAddr returns host:port of the preferred worker address.
func (c *Config) WorkerAddr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

// ProxyAddr returns the listen address of the search proxy.
func (c *Config) ProxyAddr() string {
	return fmt.Sprintf("%s:%d", c.ProxyHost, c.ProxyPort)
}

// IsExcludedTool reports whether executions of the named tool are ignored.
func (c *Config) IsExcludedTool(name string) bool {
	for _, t := range c.ExcludedTools {
		if t == name {
			return true
		}
	}
	return false
}
