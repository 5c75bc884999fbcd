// Package config loads and validates the engine configuration. Files are
// YAML, located explicitly or under the XDG config home, with SIEVE_-prefixed
// environment variables overriding individual keys.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/sievehq/sieve/internal/logutil"
)

// AppName names the config directory under the XDG config home
const AppName = "sieve"

// CircuitBreakerConfig shapes the breaker registry and call timeouts
type CircuitBreakerConfig struct {
	FailureThreshold   uint32 `mapstructure:"failure_threshold"`
	RecoveryTimeoutSec int    `mapstructure:"recovery_timeout_sec"`
	SuccessThreshold   uint32 `mapstructure:"success_threshold"`
	RequestTimeoutSec  int    `mapstructure:"request_timeout_sec"`
}

// RateLimitConfig shapes the adaptive limiter registry
type RateLimitConfig struct {
	// PerModelRPMInitial maps "provider/model" keys to their seed RPM
	PerModelRPMInitial map[string]int `mapstructure:"per_model_rpm_initial"`
	RPMMin             int            `mapstructure:"rpm_min"`
	RPMMax             int            `mapstructure:"rpm_max"`
	AdjustAlpha        float64        `mapstructure:"adjust_alpha"`
}

// CacheConfig shapes the response cache
type CacheConfig struct {
	MaxSize int `mapstructure:"max_size"`
	TTLSec  int `mapstructure:"ttl_sec"`
}

// EnsembleConfig shapes the aggregator thresholds and the record deadline
type EnsembleConfig struct {
	TauHigh              float64 `mapstructure:"tau_high"`
	TauMid               float64 `mapstructure:"tau_mid"`
	TauLow               float64 `mapstructure:"tau_low"`
	PerRecordDeadlineSec int     `mapstructure:"per_record_deadline_sec"`
}

// RetryConfig shapes the dispatcher backoff loop
type RetryConfig struct {
	MaxRetries   int     `mapstructure:"max_retries"`
	BaseDelaySec float64 `mapstructure:"base_delay_sec"`
	MaxDelaySec  float64 `mapstructure:"max_delay_sec"`
	JitterPct    float64 `mapstructure:"jitter_pct"`
}

// StorageConfig shapes the job store and file retention
type StorageConfig struct {
	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db"`
	AssessmentTTLSec int    `mapstructure:"assessment_ttl_sec"`
	BatchTTLSec      int    `mapstructure:"batch_ttl_sec"`
	PDFRetentionSec  int    `mapstructure:"pdf_retention_sec"`
	DataDir          string `mapstructure:"data_dir"`
}

// Config is the full configuration surface
type Config struct {
	// ScreeningModels are the catalog models fanned out per record
	ScreeningModels []string `mapstructure:"screening_models"`
	// AssessmentModel is the catalog model used per QA criterion
	AssessmentModel string `mapstructure:"assessment_model"`
	// LogLevel is debug/info/warn/error
	LogLevel string `mapstructure:"log_level"`
	// AuditLogPath is where audit entries append; empty disables auditing
	AuditLogPath string `mapstructure:"audit_log_path"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Ensemble       EnsembleConfig       `mapstructure:"ensemble"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Storage        StorageConfig        `mapstructure:"storage"`
}

// Default returns the documented defaults
func Default() *Config {
	dataDir := filepath.Join(xdg.DataHome, AppName)
	return &Config{
		ScreeningModels: []string{"gpt-4.1", "claude-sonnet-4", "gemini-2.5-flash"},
		AssessmentModel: "gpt-4.1",
		LogLevel:        "info",
		AuditLogPath:    filepath.Join(dataDir, "audit.jsonl"),
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:   5,
			RecoveryTimeoutSec: 60,
			SuccessThreshold:   3,
			RequestTimeoutSec:  30,
		},
		RateLimit: RateLimitConfig{
			RPMMin:      5,
			RPMMax:      300,
			AdjustAlpha: 0.1,
		},
		Cache: CacheConfig{MaxSize: 1000, TTLSec: 3600},
		Ensemble: EnsembleConfig{
			TauHigh:              0.85,
			TauMid:               0.5,
			TauLow:               0.3,
			PerRecordDeadlineSec: 3500,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			BaseDelaySec: 1,
			MaxDelaySec:  30,
			JitterPct:    0.1,
		},
		Storage: StorageConfig{
			RedisAddr:        "localhost:6379",
			AssessmentTTLSec: int((24 * time.Hour).Seconds()),
			BatchTTLSec:      int((7 * 24 * time.Hour).Seconds()),
			PDFRetentionSec:  int(time.Hour.Seconds()),
			DataDir:          dataDir,
		},
	}
}

// Load reads configuration from path (or the XDG config home when empty),
// applies env overrides, and validates.
func Load(path string, logger logutil.LoggerInterface) (*Config, error) {
	// Model IDs contain dots (gpt-4.1), so "." cannot be the key delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SIEVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errorsAs(err, &notFound) {
			logger.Debug("no config file found, using defaults")
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		logger.Debug("loaded config from %s", v.ConfigFileUsed())
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// errorsAs is a tiny indirection so Load reads linearly
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// Validate checks cross-field invariants
func (c *Config) Validate() error {
	if len(c.ScreeningModels) == 0 {
		return fmt.Errorf("config: screening_models must name at least one model")
	}
	if c.AssessmentModel == "" {
		return fmt.Errorf("config: assessment_model is required")
	}
	e := c.Ensemble
	if !(e.TauHigh > e.TauMid && e.TauMid > e.TauLow) {
		return fmt.Errorf("config: ensemble thresholds must satisfy tau_high > tau_mid > tau_low")
	}
	if c.RateLimit.RPMMin <= 0 || c.RateLimit.RPMMax < c.RateLimit.RPMMin {
		return fmt.Errorf("config: rate_limit rpm bounds are invalid")
	}
	if c.RateLimit.AdjustAlpha <= 0 || c.RateLimit.AdjustAlpha >= 1 {
		return fmt.Errorf("config: rate_limit.adjust_alpha must be in (0, 1)")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries must be non-negative")
	}
	return nil
}

// RecordDeadline returns the per-record screening deadline
func (c *Config) RecordDeadline() time.Duration {
	return time.Duration(c.Ensemble.PerRecordDeadlineSec) * time.Second
}

// CacheTTL returns the response cache TTL
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// RecoveryTimeout returns the breaker recovery timeout
func (c *Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.CircuitBreaker.RecoveryTimeoutSec) * time.Second
}

// AssessmentTTL returns the assessment record TTL
func (c *Config) AssessmentTTL() time.Duration {
	return time.Duration(c.Storage.AssessmentTTLSec) * time.Second
}

// BatchTTL returns the batch record TTL
func (c *Config) BatchTTL() time.Duration {
	return time.Duration(c.Storage.BatchTTLSec) * time.Second
}

// PDFRetention returns the stored-PDF retention window
func (c *Config) PDFRetention() time.Duration {
	return time.Duration(c.Storage.PDFRetentionSec) * time.Second
}
