package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Auth      AuthConfig      `yaml:"auth"`
	Scenes    ScenesConfig    `yaml:"scenes"`
	Database  DatabaseConfig  `yaml:"database"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Log       LogConfig       `yaml:"log"`
}

// BridgeConfig contains Hue bridge connection settings
type BridgeConfig struct {
	Address       string   `yaml:"address"`        // Manual address, skips discovery when set
	Timeout       Duration `yaml:"timeout"`        // Per-attempt HTTP timeout (default: 10s)
	RetryAttempts int      `yaml:"retry_attempts"` // Total attempts per request (default: 3)
	RetryDelay    Duration `yaml:"retry_delay"`    // Pause between attempts (default: 1s)
	RateLimitRPS  float64  `yaml:"rate_limit_rps"` // Request pacing (default: 10)
}

// DiscoveryConfig contains bridge discovery settings
type DiscoveryConfig struct {
	RemoteURL     string   `yaml:"remote_url"`
	MDNSService   string   `yaml:"mdns_service"`
	MDNSWindow    Duration `yaml:"mdns_window"` // Clamped to 2s..5s
	DisableRemote bool     `yaml:"disable_remote"`
	DisableMDNS   bool     `yaml:"disable_mdns"`
}

// AuthConfig contains link-button pairing settings
type AuthConfig struct {
	AppName      string   `yaml:"app_name"`
	InstanceName string   `yaml:"instance_name"` // Defaults to the hostname
	PollInterval Duration `yaml:"poll_interval"` // At most 1s
	Deadline     Duration `yaml:"deadline"`      // Measured from the button press, at most 30s (default: 30s)
}

// ScenesConfig contains status scene settings
type ScenesConfig struct {
	SuccessName        string   `yaml:"success_name"`
	FailureName        string   `yaml:"failure_name"`
	SuccessEffect      string   `yaml:"success_effect"`
	FailureEffect      string   `yaml:"failure_effect"`
	ValidationInterval Duration `yaml:"validation_interval"` // How often recall re-checks the scene (default: 24h)
	TransitionTime     Duration `yaml:"transition_time"`     // Zero leaves the bridge default
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains invocation history settings
type LedgerConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

const maxSceneNameLength = 32

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the configuration file. A missing file is not an
// error; the defaults are used instead. The HUESTATUS_* environment
// overrides are applied on top in both cases.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies the environment overrides. HUESTATUS_BRIDGE (or
// HUESTATUS_BRIDGE_IP) sets the bridge address, HUESTATUS_TIMEOUT the
// request timeout as a duration or whole seconds, and HUESTATUS_VERBOSE or
// HUESTATUS_QUIET the log level. Verbose wins when both are set.
func (cfg *Config) applyEnv() error {
	var errs []error

	for _, key := range []string{"HUESTATUS_BRIDGE", "HUESTATUS_BRIDGE_IP"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			cfg.Bridge.Address = v
			break
		}
	}

	if v := strings.TrimSpace(os.Getenv("HUESTATUS_TIMEOUT")); v != "" {
		d, err := parseEnvDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HUESTATUS_TIMEOUT: %w", err))
		} else {
			cfg.Bridge.Timeout = Duration(d)
		}
	}

	verbose, err := envBool("HUESTATUS_VERBOSE")
	if err != nil {
		errs = append(errs, err)
	}
	quiet, err := envBool("HUESTATUS_QUIET")
	if err != nil {
		errs = append(errs, err)
	}
	switch {
	case verbose:
		cfg.Log.Level = "debug"
	case quiet:
		cfg.Log.Level = "error"
	}

	return errors.Join(errs...)
}

func parseEnvDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func envBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

func (cfg *Config) applyDefaults() {
	// Bridge defaults
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = Duration(10 * time.Second)
	}
	if cfg.Bridge.RetryAttempts == 0 {
		cfg.Bridge.RetryAttempts = 3
	}
	if cfg.Bridge.RetryDelay == 0 {
		cfg.Bridge.RetryDelay = Duration(1 * time.Second)
	}
	if cfg.Bridge.RateLimitRPS == 0 {
		cfg.Bridge.RateLimitRPS = 10.0
	}

	// Discovery defaults
	if cfg.Discovery.RemoteURL == "" {
		cfg.Discovery.RemoteURL = "https://discovery.meethue.com/"
	}
	if cfg.Discovery.MDNSService == "" {
		cfg.Discovery.MDNSService = "_hue._tcp"
	}
	if cfg.Discovery.MDNSWindow == 0 {
		cfg.Discovery.MDNSWindow = Duration(3 * time.Second)
	}

	// Auth defaults
	if cfg.Auth.AppName == "" {
		cfg.Auth.AppName = "huestatus"
	}
	if cfg.Auth.InstanceName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Auth.InstanceName = host
		}
	}
	if cfg.Auth.PollInterval == 0 {
		cfg.Auth.PollInterval = Duration(1 * time.Second)
	}
	if cfg.Auth.Deadline == 0 {
		cfg.Auth.Deadline = Duration(30 * time.Second)
	}

	// Scene defaults
	if cfg.Scenes.SuccessName == "" {
		cfg.Scenes.SuccessName = "huestatus-success"
	}
	if cfg.Scenes.FailureName == "" {
		cfg.Scenes.FailureName = "huestatus-failure"
	}
	if cfg.Scenes.ValidationInterval == 0 {
		cfg.Scenes.ValidationInterval = Duration(24 * time.Hour)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath()
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./huestatus.sqlite"
	}
	return dir + string(os.PathSeparator) + "huestatus" + string(os.PathSeparator) + "huestatus.sqlite"
}

// Validate checks the loaded values against the ranges the tool supports.
func (cfg *Config) Validate() error {
	var errs []error

	if t := cfg.Bridge.Timeout.Duration(); t <= 0 || t > 300*time.Second {
		errs = append(errs, fmt.Errorf("bridge.timeout must be within (0, 5m], got %s", t))
	}
	if n := cfg.Bridge.RetryAttempts; n < 1 || n > 10 {
		errs = append(errs, fmt.Errorf("bridge.retry_attempts must be within [1, 10], got %d", n))
	}
	if d := cfg.Bridge.RetryDelay.Duration(); d < 0 || d > time.Minute {
		errs = append(errs, fmt.Errorf("bridge.retry_delay must be within [0, 1m], got %s", d))
	}
	if cfg.Bridge.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("bridge.rate_limit_rps must not be negative"))
	}

	if p := cfg.Auth.PollInterval.Duration(); p <= 0 || p > time.Second {
		errs = append(errs, fmt.Errorf("auth.poll_interval must be within (0, 1s], got %s", p))
	}
	if d := cfg.Auth.Deadline.Duration(); d <= 0 || d > 30*time.Second {
		errs = append(errs, fmt.Errorf("auth.deadline must be within (0, 30s], got %s", d))
	}

	for key, name := range map[string]string{
		"scenes.success_name": cfg.Scenes.SuccessName,
		"scenes.failure_name": cfg.Scenes.FailureName,
	} {
		if strings.TrimSpace(name) == "" || len(name) > maxSceneNameLength {
			errs = append(errs, fmt.Errorf("%s must be 1-%d characters", key, maxSceneNameLength))
		}
	}
	if cfg.Scenes.SuccessName == cfg.Scenes.FailureName {
		errs = append(errs, fmt.Errorf("scenes.success_name and scenes.failure_name must differ"))
	}
	if v := cfg.Scenes.ValidationInterval.Duration(); v < time.Hour || v > 365*24*time.Hour {
		errs = append(errs, fmt.Errorf("scenes.validation_interval must be within [1h, 8760h], got %s", v))
	}
	if tt := cfg.Scenes.TransitionTime.Duration(); tt < 0 || tt > 65535*100*time.Millisecond {
		errs = append(errs, fmt.Errorf("scenes.transition_time out of range: %s", tt))
	}

	return errors.Join(errs...)
}

// TransitionDeciseconds returns the scene transition in deciseconds, or nil when
// the bridge default should apply.
func (c ScenesConfig) TransitionDeciseconds() *uint16 {
	if c.TransitionTime <= 0 {
		return nil
	}
	ds := uint16(c.TransitionTime.Duration() / (100 * time.Millisecond))
	return &ds
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
