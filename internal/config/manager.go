package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides (JANITOR_SERVER_URL, ...).
const EnvPrefix = "JANITOR"

// Config represents the complete client configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Scan          ScanConfig          `yaml:"scan" mapstructure:"scan"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
	Journal       JournalConfig       `yaml:"journal" mapstructure:"journal"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Arrs          ArrsConfig          `yaml:"arrs" mapstructure:"arrs"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// ServerConfig describes how to reach the Media Janitor server
type ServerConfig struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	APIPrefix      string        `yaml:"api_prefix" mapstructure:"api_prefix"`
	WSPath         string        `yaml:"ws_path" mapstructure:"ws_path"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ScanConfig controls scan session behaviour
type ScanConfig struct {
	// PollInterval enables the fallback poller when > 0.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	// SettleDelay is how long a completed scan stays visible before the plan id is handed over.
	SettleDelay time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
}

// NotificationsConfig controls the notification bus
type NotificationsConfig struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"` // 0 disables auto-dismiss
}

// JournalConfig represents the local run journal database
type JournalConfig struct {
	Enabled *bool  `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// CacheConfig sizes in-memory caches
type CacheConfig struct {
	RunCacheSize int `yaml:"run_cache_size" mapstructure:"run_cache_size"`
}

// ArrsConfig lists Radarr/Sonarr instances checked directly by diagnostics
type ArrsConfig struct {
	RadarrInstances []ArrInstance `yaml:"radarr_instances" mapstructure:"radarr_instances"`
	SonarrInstances []ArrInstance `yaml:"sonarr_instances" mapstructure:"sonarr_instances"`
}

// ArrInstance represents a single *arr instance
type ArrInstance struct {
	Name    string `yaml:"name" mapstructure:"name"`
	URL     string `yaml:"url" mapstructure:"url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	Enabled *bool  `yaml:"enabled" mapstructure:"enabled"`
}

// IsEnabled reports whether the instance should be checked. Missing means enabled.
func (a ArrInstance) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// LogConfig represents logging configuration with rotation support
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`               // Log file path (empty = console only)
	Level      string `yaml:"level" mapstructure:"level"`             // Log level (debug, info, warn, error)
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // Max size in MB before rotation
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // Max age in days to keep files
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // Max number of old files to keep
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // Compress old log files
}

// DeepCopy returns a deep copy of the configuration
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	copyCfg := *c

	if c.Journal.Enabled != nil {
		v := *c.Journal.Enabled
		copyCfg.Journal.Enabled = &v
	}

	copyCfg.Arrs.RadarrInstances = copyInstances(c.Arrs.RadarrInstances)
	copyCfg.Arrs.SonarrInstances = copyInstances(c.Arrs.SonarrInstances)

	return &copyCfg
}

func copyInstances(in []ArrInstance) []ArrInstance {
	if in == nil {
		return nil
	}

	out := make([]ArrInstance, len(in))
	for i, inst := range in {
		out[i] = inst
		if inst.Enabled != nil {
			v := *inst.Enabled
			out[i].Enabled = &v
		}
	}

	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server url cannot be empty")
	}

	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server url is invalid: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server url must use http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("server url must include a host")
	}

	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("server api_prefix must start with '/'")
	}

	if c.Server.WSPath != "" && !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server ws_path must start with '/'")
	}

	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server request_timeout cannot be negative")
	}

	if c.Server.RetryAttempts < 0 {
		return fmt.Errorf("server retry_attempts cannot be negative")
	}

	if c.Scan.PollInterval < 0 {
		return fmt.Errorf("scan poll_interval cannot be negative")
	}

	if c.Scan.SettleDelay < 0 {
		return fmt.Errorf("scan settle_delay cannot be negative")
	}

	if c.Notifications.TTL < 0 {
		return fmt.Errorf("notifications ttl cannot be negative")
	}

	if c.Journal.Enabled != nil && *c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal path cannot be empty when the journal is enabled")
	}

	if c.Cache.RunCacheSize < 0 {
		return fmt.Errorf("cache run_cache_size cannot be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}

	for _, group := range []struct {
		kind      string
		instances []ArrInstance
	}{
		{"radarr", c.Arrs.RadarrInstances},
		{"sonarr", c.Arrs.SonarrInstances},
	} {
		for i, inst := range group.instances {
			if !inst.IsEnabled() {
				continue
			}
			if inst.URL == "" {
				return fmt.Errorf("%s instance %d: url cannot be empty", group.kind, i)
			}
			if inst.APIKey == "" {
				return fmt.Errorf("%s instance %d: api_key cannot be empty", group.kind, i)
			}
		}
	}

	return nil
}

// ChangeCallback represents a function called when configuration changes
type ChangeCallback func(oldConfig, newConfig *Config)

// ConfigGetter represents a function that returns the current configuration
type ConfigGetter func() *Config

// Manager manages configuration state and persistence
type Manager struct {
	current    *Config
	configFile string
	fs         afero.Fs
	mutex      sync.RWMutex
	callbacks  []ChangeCallback
}

// NewManager creates a new configuration manager backed by the OS filesystem
func NewManager(config *Config, configFile string) *Manager {
	return NewManagerWithFs(config, configFile, afero.NewOsFs())
}

// NewManagerWithFs creates a configuration manager on the given filesystem
func NewManagerWithFs(config *Config, configFile string, fs afero.Fs) *Manager {
	return &Manager{
		current:    config,
		configFile: configFile,
		fs:         fs,
	}
}

// GetConfig returns the current configuration (thread-safe)
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current configuration
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// ConfigFile returns the path the manager saves to
func (m *Manager) ConfigFile() string {
	return m.configFile
}

// UpdateConfig validates and swaps the current configuration (thread-safe)
func (m *Manager) UpdateConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.mutex.Lock()
	var oldConfig *Config
	if m.current != nil {
		oldConfig = m.current.DeepCopy()
	}
	m.current = config
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.Unlock()

	// Notify callbacks after releasing the lock
	for _, callback := range callbacks {
		callback(oldConfig, config)
	}
	return nil
}

// OnConfigChange registers a callback to be called when configuration changes
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ReloadConfig reloads configuration from file and notifies callbacks
func (m *Manager) ReloadConfig() error {
	if m.configFile == "" {
		return fmt.Errorf("no config file to reload")
	}

	config, err := LoadConfigFs(m.fs, m.configFile)
	if err != nil {
		return err
	}

	return m.UpdateConfig(config)
}

// SaveConfig saves the current configuration to file
func (m *Manager) SaveConfig() error {
	m.mutex.RLock()
	config := m.current
	m.mutex.RUnlock()

	if config == nil {
		return fmt.Errorf("no configuration to save")
	}

	return SaveToFile(m.fs, config, m.configFile)
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	journalEnabled := true

	return &Config{
		Server: ServerConfig{
			URL:            "http://localhost:8000",
			APIPrefix:      "/api",
			WSPath:         "/ws/scan",
			RequestTimeout: 30 * time.Second,
			RetryAttempts:  3,
		},
		Scan: ScanConfig{
			PollInterval: 0,                       // Push only
			SettleDelay:  1500 * time.Millisecond, // Keep the completed state visible briefly
		},
		Notifications: NotificationsConfig{
			TTL: 5 * time.Second,
		},
		Journal: JournalConfig{
			Enabled: &journalEnabled,
			Path:    filepath.Join(defaultDataDir(), "journal.db"),
		},
		Cache: CacheConfig{
			RunCacheSize: 64,
		},
		Log: LogConfig{
			File:       "",     // Empty = console only
			Level:      "info", // Default log level
			MaxSize:    10,     // 10MB max size
			MaxAge:     14,     // Keep for 14 days
			MaxBackups: 3,      // Keep 3 old files
			Compress:   true,   // Compress old files
		},
	}
}

// DefaultConfigFilePath returns the per-user config file location
func DefaultConfigFilePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mediajanitor", "config.yaml")
	}
	return "config.yaml"
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mediajanitor")
	}
	return "."
}

// SaveToFile saves a configuration to a YAML file
func SaveToFile(fs afero.Fs, config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(fs, filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfig loads configuration from file and merges with defaults.
// An empty configFile looks for config.yaml in the working directory and the
// user config dir; when none is found the defaults (plus env overrides) are used.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigFs(afero.NewOsFs(), configFile)
}

// LoadConfigFs is LoadConfig reading from the given filesystem
func LoadConfigFs(fs afero.Fs, configFile string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetFs(fs)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(DefaultConfigFilePath()))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers the scalar keys so AutomaticEnv picks them up during
// Unmarshal even when they are absent from the file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.url",
		"server.api_prefix",
		"server.ws_path",
		"server.request_timeout",
		"server.retry_attempts",
		"scan.poll_interval",
		"scan.settle_delay",
		"notifications.ttl",
		"journal.path",
		"journal.enabled",
		"log.file",
		"log.level",
	} {
		_ = v.BindEnv(key)
	}
}
