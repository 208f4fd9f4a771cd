package abuseshield

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the limiting and blocking configuration. It supports an
// ordered endpoint-class table, a gate prefix scope, and the penalty
// parameters. Caps and thresholds are configuration, not constants; the
// backoff and block formulas themselves are fixed.
type Config struct {
	// Enabled switches the whole subsystem. A disabled gate passes every
	// request straight through.
	Enabled bool `yaml:"enabled"`

	// Prefixes is the ordered list of rate-limited path prefixes. Requests
	// outside this set bypass the gate entirely. Empty means every path is
	// in scope.
	Prefixes []string `yaml:"prefixes,omitempty"`

	// Classes is the priority-ordered endpoint class table; the first
	// matching prefix wins, so more specific prefixes come first.
	Classes []EndpointClass `yaml:"classes,omitempty"`

	// Default is the quota applied to paths matching no class prefix.
	Default EndpointClass `yaml:"default"`

	// AutoBlockThreshold is the cumulative violation count at which an IP
	// is automatically blocked.
	AutoBlockThreshold int `yaml:"auto_block_threshold"`

	// MaxBlockHours caps the duration of an automatic block.
	MaxBlockHours int `yaml:"max_block_hours"`

	// BackoffBaseSeconds is the first-violation backoff; each further
	// violation doubles it.
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`

	// MaxBackoffSeconds caps the exponential backoff.
	MaxBackoffSeconds int `yaml:"max_backoff_seconds"`

	// ViolationTTLHours is the rolling window over which violations
	// accumulate before the counter self-expires.
	ViolationTTLHours int `yaml:"violation_ttl_hours"`

	// RetentionDays is how long violation audit rows are kept before the
	// janitor prunes them.
	RetentionDays int `yaml:"retention_days"`

	// TrustTTLSeconds is how long the cached trust list is served before a
	// reload from the durable source.
	TrustTTLSeconds int `yaml:"trust_ttl_seconds"`

	// TrustedSeed lists IPs trusted regardless of the durable trust store.
	TrustedSeed []string `yaml:"trusted_seed,omitempty"`
}

// NewConfig creates a Config with the stock class table and default
// penalty parameters.
func NewConfig() *Config {
	return &Config{
		Enabled:            true,
		Prefixes:           []string{"/admin", "/accounts", "/api", "/graphql"},
		Classes:            defaultClasses(),
		Default:            EndpointClass{Name: ClassDefault, MaxRequests: 200, WindowSeconds: 60},
		AutoBlockThreshold: 10,
		MaxBlockHours:      24,
		BackoffBaseSeconds: 60,
		MaxBackoffSeconds:  24 * 3600,
		ViolationTTLHours:  24,
		RetentionDays:      90,
		TrustTTLSeconds:    3600,
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration. An invalid configuration is fatal at
// construction: the limiter refuses to start with ambiguous rules.
func (c *Config) Validate() error {
	if _, err := c.table(); err != nil {
		return err
	}
	for _, p := range c.Prefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: rate-limited prefix %q must start with /", ErrInvalidConfig, p)
		}
	}
	if c.AutoBlockThreshold <= 0 {
		return fmt.Errorf("%w: auto_block_threshold must be positive", ErrInvalidConfig)
	}
	if c.MaxBlockHours <= 0 {
		return fmt.Errorf("%w: max_block_hours must be positive", ErrInvalidConfig)
	}
	if c.BackoffBaseSeconds <= 0 || c.MaxBackoffSeconds < c.BackoffBaseSeconds {
		return fmt.Errorf("%w: backoff bounds are inconsistent", ErrInvalidConfig)
	}
	if c.ViolationTTLHours <= 0 {
		return fmt.Errorf("%w: violation_ttl_hours must be positive", ErrInvalidConfig)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("%w: retention_days must be positive", ErrInvalidConfig)
	}
	if c.TrustTTLSeconds <= 0 {
		return fmt.Errorf("%w: trust_ttl_seconds must be positive", ErrInvalidConfig)
	}
	return nil
}

// table builds the frozen classification table.
func (c *Config) table() (*classTable, error) {
	return newClassTable(c.Classes, c.Default)
}

// InScope reports whether a path falls under the configured rate-limited
// prefix set.
func (c *Config) InScope(path string) bool {
	if len(c.Prefixes) == 0 {
		return true
	}
	for _, p := range c.Prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c *Config) violationTTL() time.Duration {
	return time.Duration(c.ViolationTTLHours) * time.Hour
}

func (c *Config) maxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c *Config) backoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c *Config) maxBlock() time.Duration {
	return time.Duration(c.MaxBlockHours) * time.Hour
}

// TrustTTL returns how long the cached trust list remains fresh.
func (c *Config) TrustTTL() time.Duration {
	return time.Duration(c.TrustTTLSeconds) * time.Second
}

// Retention returns the violation-log retention horizon.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
