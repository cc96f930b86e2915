package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all receiptguard settings. Every field has a default in
// DefaultConfig; files, env vars and flags only override.
type Config struct {
	Tamper    TamperConfig    `yaml:"tamper" mapstructure:"tamper"`
	Duplicate DuplicateConfig `yaml:"duplicate" mapstructure:"duplicate"`
	Validator ValidatorConfig `yaml:"validator" mapstructure:"validator"`
	Sanity    SanityConfig    `yaml:"sanity" mapstructure:"sanity"`
	Weights   Weights         `yaml:"weights" mapstructure:"weights"`
	Corpus    CorpusConfig    `yaml:"corpus" mapstructure:"corpus"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ELAThresholds is one set of error-level cutoffs
type ELAThresholds struct {
	MaxError        float64 `yaml:"max_error" mapstructure:"max_error" validate:"gt=0"`
	StdError        float64 `yaml:"std_error" mapstructure:"std_error" validate:"gt=0"`
	RegionThreshold int     `yaml:"region_threshold" mapstructure:"region_threshold" validate:"min=1,max=9"`
	RegionRatio     float64 `yaml:"region_ratio" mapstructure:"region_ratio" validate:"gt=0"`
	RegionFloor     float64 `yaml:"region_floor" mapstructure:"region_floor" validate:"gte=0"`
}

// TamperConfig controls the compression error-level detector
type TamperConfig struct {
	Quality    int           `yaml:"quality" mapstructure:"quality" validate:"min=1,max=100"`
	Photo      ELAThresholds `yaml:"photo" mapstructure:"photo"`
	Screenshot ELAThresholds `yaml:"screenshot" mapstructure:"screenshot"`
	// ScreenshotDiscount is subtracted from the points of screenshots
	ScreenshotDiscount int `yaml:"screenshot_discount" mapstructure:"screenshot_discount" validate:"gte=0"`
}

// DuplicateConfig controls the duplicate detector
type DuplicateConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold" validate:"gt=0,lte=100"`
}

// ValidatorConfig selects and tunes the external content validator
type ValidatorConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Provider       string        `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=openai anthropic claude ollama"`
	Model          string        `yaml:"model" mapstructure:"model"`
	APIKey         string        `yaml:"-" mapstructure:"api_key"` // never written to disk
	BaseURL        string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Temperature    float64       `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=10"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" mapstructure:"attempt_timeout" validate:"gt=0"`
	RatePerSecond  float64       `yaml:"rate_per_second" mapstructure:"rate_per_second" validate:"gt=0"`
	Burst          int           `yaml:"burst" mapstructure:"burst" validate:"min=1"`
	// Breaker opens after this many consecutive failed calls
	BreakerFailures uint32        `yaml:"breaker_failures" mapstructure:"breaker_failures" validate:"min=1"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown" validate:"gt=0"`

	// Proxy settings; empty falls back to HTTP_PROXY/HTTPS_PROXY/NO_PROXY
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// SanityConfig controls the local checks applied to validator output
type SanityConfig struct {
	FutureTolerance time.Duration `yaml:"future_tolerance" mapstructure:"future_tolerance"`
	MaxReceiptAge   time.Duration `yaml:"max_receipt_age" mapstructure:"max_receipt_age"`
}

// Weights are the additive fraud score contributions
type Weights struct {
	MetadataHigh        int `yaml:"metadata_high" mapstructure:"metadata_high" validate:"gte=0"`
	MetadataMedium      int `yaml:"metadata_medium" mapstructure:"metadata_medium" validate:"gte=0"`
	TamperHigh          int `yaml:"tamper_high" mapstructure:"tamper_high" validate:"gte=0"`
	TamperMedium        int `yaml:"tamper_medium" mapstructure:"tamper_medium" validate:"gte=0"`
	Duplicate           int `yaml:"duplicate" mapstructure:"duplicate" validate:"gte=0"`
	ExactReuse          int `yaml:"exact_reuse" mapstructure:"exact_reuse" validate:"gte=0"`
	ContentFailure      int `yaml:"content_failure" mapstructure:"content_failure" validate:"gte=0"`
	IndicatorEach       int `yaml:"indicator_each" mapstructure:"indicator_each" validate:"gte=0"`
	IndicatorCap        int `yaml:"indicator_cap" mapstructure:"indicator_cap" validate:"gte=0"`
	LowAuthenticity     int `yaml:"low_authenticity" mapstructure:"low_authenticity" validate:"gte=0"`
	AuthenticityCutoff  int `yaml:"authenticity_cutoff" mapstructure:"authenticity_cutoff" validate:"min=0,max=100"`
	HighRiskThreshold   int `yaml:"high_risk_threshold" mapstructure:"high_risk_threshold" validate:"min=1,max=100"`
	MediumRiskThreshold int `yaml:"medium_risk_threshold" mapstructure:"medium_risk_threshold" validate:"min=1,ltfield=HighRiskThreshold"`
}

// CorpusConfig selects the corpus backend
type CorpusConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" validate:"oneof=memory sqlite3 pgx"`
	DSN    string `yaml:"dsn" mapstructure:"dsn" validate:"required_unless=Driver memory"`
}

// StoreConfig locates prior receipts referenced by submission ref
type StoreConfig struct {
	LocalDir string `yaml:"local_dir" mapstructure:"local_dir"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	// http(s) references are refused unless enabled, and then only for
	// these hosts (exact name or ".suffix")
	HTTPEnabled  bool     `yaml:"http_enabled" mapstructure:"http_enabled"`
	AllowedHosts []string `yaml:"allowed_hosts,omitempty" mapstructure:"allowed_hosts" validate:"required_if=HTTPEnabled true,dive,required,excludesall=/:@"`
}

// CacheConfig controls the signature cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
}

// LockConfig selects the advisory lock backend
type LockConfig struct {
	Backend   string        `yaml:"backend" mapstructure:"backend" validate:"oneof=local redis"`
	RedisAddr string        `yaml:"redis_addr" mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gt=0"`
	Wait      time.Duration `yaml:"wait" mapstructure:"wait" validate:"gte=0"`
}

// RecordTimeout bounds the corpus write, which runs even after the
// evaluation deadline has passed
const RecordTimeout = 5 * time.Second

// PipelineConfig bounds a single evaluation
type PipelineConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
}

// WorkerConfig sizes the batch pool
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
}

// ServerConfig controls the HTTP surface
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	MaxUpload    int64         `yaml:"max_upload" mapstructure:"max_upload" validate:"gt=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Env   string `yaml:"env" mapstructure:"env" validate:"oneof=development production"`
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Tamper: TamperConfig{
			Quality: 90,
			Photo: ELAThresholds{
				MaxError:        25,
				StdError:        18,
				RegionThreshold: 2,
				RegionRatio:     1.5,
				RegionFloor:     25,
			},
			Screenshot: ELAThresholds{
				MaxError:        40,
				StdError:        25,
				RegionThreshold: 3,
				RegionRatio:     2.0,
				RegionFloor:     40,
			},
			ScreenshotDiscount: 2,
		},
		Duplicate: DuplicateConfig{
			Threshold: 75,
		},
		Validator: ValidatorConfig{
			Enabled:         false,
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			Temperature:     0.1,
			MaxTokens:       800,
			MaxAttempts:     3,
			AttemptTimeout:  30 * time.Second,
			RatePerSecond:   2,
			Burst:           2,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Sanity: SanityConfig{
			FutureTolerance: 24 * time.Hour,
			MaxReceiptAge:   180 * 24 * time.Hour,
		},
		Weights: DefaultWeights(),
		Corpus: CorpusConfig{
			Driver: "memory",
		},
		Store: StoreConfig{
			LocalDir: ".",
			Region:   "us-east-1",
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
			Dir:     "",
		},
		Lock: LockConfig{
			Backend: "local",
			TTL:     2 * time.Minute,
			Wait:    10 * time.Second,
		},
		Pipeline: PipelineConfig{
			Timeout: 90 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxUpload:    10 << 20,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Log: LogConfig{
			Env:   "development",
			Level: "info",
		},
	}
}

// DefaultWeights returns the default scoring weights
func DefaultWeights() Weights {
	return Weights{
		MetadataHigh:        20,
		MetadataMedium:      10,
		TamperHigh:          25,
		TamperMedium:        10,
		Duplicate:           30,
		ExactReuse:          20,
		ContentFailure:      15,
		IndicatorEach:       3,
		IndicatorCap:        10,
		LowAuthenticity:     10,
		AuthenticityCutoff:  70,
		HighRiskThreshold:   40,
		MediumRiskThreshold: 20,
	}
}

var configValidator = validator.New()

// Validate checks field constraints on the configuration
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// the submitter lock must outlive the evaluation and its corpus write
	if c.Lock.TTL <= c.Pipeline.Timeout+RecordTimeout {
		return fmt.Errorf("invalid config: Lock.TTL %s must exceed Pipeline.Timeout %s plus %s",
			c.Lock.TTL, c.Pipeline.Timeout, RecordTimeout)
	}
	return nil
}
