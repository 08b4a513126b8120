package sessionkeeper

import (
	"errors"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds every threshold the coordinator consults. All values are
// deliberately configuration rather than constants; the defaults are
// representative, not sacred.
type Config struct {
	// ValidityMargin is how much remaining access token lifetime a cached
	// session must have to be served without a refresh.
	ValidityMargin time.Duration `env:"SESSIONKEEPER_VALIDITY_MARGIN,default=5m"`

	// CacheTTL independently invalidates the cached session once it has
	// been held longer than this, regardless of token expiry. Zero
	// disables the check.
	CacheTTL time.Duration `env:"SESSIONKEEPER_CACHE_TTL"`

	// AcquireTimeout bounds how long Acquire waits on an in-flight
	// refresh before degrading to the last known tokens.
	AcquireTimeout time.Duration `env:"SESSIONKEEPER_ACQUIRE_TIMEOUT,default=5s"`

	// QuickAcquireTimeout is the tighter bound used by AcquireQuick for
	// latency-sensitive paths.
	QuickAcquireTimeout time.Duration `env:"SESSIONKEEPER_QUICK_ACQUIRE_TIMEOUT,default=3s"`

	// FailureThreshold is the number of consecutive refresh failures that
	// opens the circuit breaker.
	FailureThreshold int `env:"SESSIONKEEPER_FAILURE_THRESHOLD,default=3"`

	// CooldownWindow is how long the breaker stays open before refresh
	// attempts are allowed again.
	CooldownWindow time.Duration `env:"SESSIONKEEPER_COOLDOWN_WINDOW,default=30s"`

	// ProactiveInterval is how often the background timer inspects the
	// cached session. Zero disables proactive refreshing entirely.
	ProactiveInterval time.Duration `env:"SESSIONKEEPER_PROACTIVE_INTERVAL,default=5m"`

	// ProactiveWindow is the remaining-lifetime threshold below which the
	// background timer refreshes ahead of demand.
	ProactiveWindow time.Duration `env:"SESSIONKEEPER_PROACTIVE_WINDOW,default=5m"`
}

// DefaultConfig returns the representative defaults: 5m validity margin, 5s
// acquire bound (3s quick), breaker opening after 3 failures for 30s, and a
// 5m proactive refresh cadence.
func DefaultConfig() Config {
	return Config{
		ValidityMargin:      5 * time.Minute,
		AcquireTimeout:      5 * time.Second,
		QuickAcquireTimeout: 3 * time.Second,
		FailureThreshold:    3,
		CooldownWindow:      30 * time.Second,
		ProactiveInterval:   5 * time.Minute,
		ProactiveWindow:     5 * time.Minute,
	}
}

// ConfigFromEnv builds a Config from SESSIONKEEPER_* environment variables,
// falling back to the documented defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields so that New(Config{}, ...) behaves
// like New(DefaultConfig(), ...). CacheTTL and ProactiveInterval stay as
// given: zero is a meaningful setting for both.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ValidityMargin == 0 {
		c.ValidityMargin = def.ValidityMargin
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.QuickAcquireTimeout == 0 {
		c.QuickAcquireTimeout = def.QuickAcquireTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.CooldownWindow == 0 {
		c.CooldownWindow = def.CooldownWindow
	}
	if c.ProactiveWindow == 0 {
		c.ProactiveWindow = def.ProactiveWindow
	}
}

// Validate rejects configurations that would disable the coordinator's
// safety properties.
func (c Config) Validate() error {
	if c.ValidityMargin <= 0 {
		return errors.New("sessionkeeper: ValidityMargin must be positive")
	}
	if c.AcquireTimeout <= 0 {
		return errors.New("sessionkeeper: AcquireTimeout must be positive")
	}
	if c.QuickAcquireTimeout <= 0 {
		return errors.New("sessionkeeper: QuickAcquireTimeout must be positive")
	}
	if c.FailureThreshold < 1 {
		return errors.New("sessionkeeper: FailureThreshold must be at least 1")
	}
	if c.CooldownWindow <= 0 {
		return errors.New("sessionkeeper: CooldownWindow must be positive")
	}
	if c.CacheTTL < 0 || c.ProactiveInterval < 0 || c.ProactiveWindow < 0 {
		return errors.New("sessionkeeper: durations must not be negative")
	}
	return nil
}
