package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// Config is the daemon configuration file
type Config struct {
	Backend           string        `json:"backend" yaml:"backend"`
	SocketPath        string        `json:"socket_path" yaml:"socket_path"`
	LogLevel          string        `json:"log_level" yaml:"log_level"`
	AutoCommitDelay   time.Duration `json:"auto_commit_delay" yaml:"auto_commit_delay"`
	BackendTimeout    time.Duration `json:"backend_timeout" yaml:"backend_timeout"`
	ReconnectMinDelay time.Duration `json:"reconnect_min_delay" yaml:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	MRULimit          int           `json:"mru_limit" yaml:"mru_limit"`
	StatusAddr        string        `json:"status_addr" yaml:"status_addr"`
	Notifications     bool          `json:"notifications" yaml:"notifications"`
	Input             InputConfig   `json:"input" yaml:"input"`
}

// InputConfig controls raw keyboard capture
type InputConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Required makes missing device access fatal instead of falling back
	// to control-socket-only operation.
	Required      bool   `json:"required" yaml:"required"`
	DeviceDir     string `json:"device_dir" yaml:"device_dir"`
	BareAltPolicy string `json:"bare_alt_policy" yaml:"bare_alt_policy"`
}

// Defaults returns the default configuration. Empty backend and socket path
// mean auto-detect and the per-user runtime socket.
func Defaults() *Config {
	return &Config{
		LogLevel:          "info",
		AutoCommitDelay:   500 * time.Millisecond,
		BackendTimeout:    time.Second,
		ReconnectMinDelay: 250 * time.Millisecond,
		ReconnectMaxDelay: 10 * time.Second,
		MRULimit:          256,
		Input: InputConfig{
			Enabled:       true,
			DeviceDir:     "/dev/input",
			BareAltPolicy: "ignore",
		},
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", "niri", "hyprland":
	default:
		return fmt.Errorf("invalid backend %q (use niri or hyprland)", c.Backend)
	}
	switch c.Input.BareAltPolicy {
	case "", "ignore", "cancel", "show":
	default:
		return fmt.Errorf("invalid input.bare_alt_policy %q (use ignore, cancel or show)", c.Input.BareAltPolicy)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	durations := map[string]time.Duration{
		"auto_commit_delay":   c.AutoCommitDelay,
		"backend_timeout":     c.BackendTimeout,
		"reconnect_min_delay": c.ReconnectMinDelay,
		"reconnect_max_delay": c.ReconnectMaxDelay,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("reconnect_max_delay (%s) is below reconnect_min_delay (%s)", c.ReconnectMaxDelay, c.ReconnectMinDelay)
	}
	if c.MRULimit <= 0 {
		return fmt.Errorf("mru_limit must be positive, got %d", c.MRULimit)
	}
	return nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager loads configFile, or the default path when empty, creating it
// with defaults if it does not exist.
func NewManager(configFile string) (*Manager, error) {
	configPath := configFile
	if configPath == "" {
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = path
	}

	m := &Manager{configPath: configPath}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config loaded")

	return m, nil
}

// DefaultPath returns $HOME/.config/witcher/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "witcher", "config.yaml"), nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their default values.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// field binds a dotted key to a Config field
type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringField(ptr func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *ptr(c) },
		set: func(c *Config, v string) error { *ptr(c) = v; return nil },
	}
}

func durationField(ptr func(c *Config) *time.Duration) field {
	return field{
		get: func(c *Config) string { return ptr(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", v)
			}
			*ptr(c) = d
			return nil
		},
	}
}

func boolField(ptr func(c *Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*ptr(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean: %s (use: true or false)", v)
			}
			*ptr(c) = b
			return nil
		},
	}
}

var fields = map[string]field{
	"backend":               stringField(func(c *Config) *string { return &c.Backend }),
	"socket_path":           stringField(func(c *Config) *string { return &c.SocketPath }),
	"log_level":             stringField(func(c *Config) *string { return &c.LogLevel }),
	"status_addr":           stringField(func(c *Config) *string { return &c.StatusAddr }),
	"auto_commit_delay":     durationField(func(c *Config) *time.Duration { return &c.AutoCommitDelay }),
	"backend_timeout":       durationField(func(c *Config) *time.Duration { return &c.BackendTimeout }),
	"reconnect_min_delay":   durationField(func(c *Config) *time.Duration { return &c.ReconnectMinDelay }),
	"reconnect_max_delay":   durationField(func(c *Config) *time.Duration { return &c.ReconnectMaxDelay }),
	"notifications":         boolField(func(c *Config) *bool { return &c.Notifications }),
	"input.enabled":         boolField(func(c *Config) *bool { return &c.Input.Enabled }),
	"input.required":        boolField(func(c *Config) *bool { return &c.Input.Required }),
	"input.device_dir":      stringField(func(c *Config) *string { return &c.Input.DeviceDir }),
	"input.bare_alt_policy": stringField(func(c *Config) *string { return &c.Input.BareAltPolicy }),
	"mru_limit": {
		get: func(c *Config) string { return strconv.Itoa(c.MRULimit) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid number: %s", v)
			}
			c.MRULimit = n
			return nil
		},
	},
}

// Keys lists the settable configuration keys
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetValue returns a configuration value by dotted key
func (m *Manager) GetValue(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("configuration key not found: %s", key)
	}
	return f.get(m.Get()), nil
}

// Set parses and stores a configuration value by dotted key, then saves.
func (m *Manager) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}
	cfg := m.Get()
	if err := f.set(cfg, value); err != nil {
		return err
	}
	return m.Update(cfg)
}
