package crawler

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the typed process configuration surface. Invalid tunables are
// fatal at startup only; nothing here changes at runtime except through the
// crawl parameters snapshot.
type Config struct {
	// Upstream API.
	Realm         string        `env:"WG_REALM" envDefault:"eu"`
	APIURL        string        `env:"WG_API_URL"`
	ApplicationID string        `env:"WG_APPLICATION_ID"`
	APITimeout    time.Duration `env:"WG_API_TIMEOUT" envDefault:"15s"`

	// Rate admission: aggregate ceiling across every upstream call.
	RequestsPerSecond float64 `env:"CRAWLER_RPS" envDefault:"20"`
	RequestBurst      int     `env:"CRAWLER_BURST" envDefault:"5"`

	// Pipeline shape.
	BatchSize          int           `env:"CRAWLER_BATCH_SIZE" envDefault:"100"`
	BatchConcurrency   int           `env:"CRAWLER_BATCH_CONCURRENCY" envDefault:"2"`
	AccountConcurrency int           `env:"CRAWLER_ACCOUNT_CONCURRENCY" envDefault:"8"`
	IdleWait           time.Duration `env:"CRAWLER_IDLE_WAIT" envDefault:"5s"`

	// Re-crawl offset control.
	MinOffset     time.Duration `env:"CRAWLER_MIN_OFFSET" envDefault:"5m"`
	OffsetFloor   time.Duration `env:"CRAWLER_OFFSET_FLOOR" envDefault:"1m"`
	OffsetCeiling time.Duration `env:"CRAWLER_OFFSET_CEILING" envDefault:"2h"`
	OffsetStep    time.Duration `env:"CRAWLER_OFFSET_STEP" envDefault:"1m"`
	TargetSweep   time.Duration `env:"CRAWLER_TARGET_SWEEP" envDefault:"12h"`
	LagPercentile float64       `env:"CRAWLER_LAG_PERCENTILE" envDefault:"0.5"`
	AutoOffset    bool          `env:"CRAWLER_AUTO_OFFSET" envDefault:"true"`

	// Lag controller tick, cron spec with seconds field.
	LagCronSpec string `env:"CRAWLER_LAG_CRON" envDefault:"0 * * * * *"`

	// Retry policy for upstream and store failures.
	MaxRetries        int           `env:"CRAWLER_MAX_RETRIES" envDefault:"5"`
	RetryInitialDelay time.Duration `env:"CRAWLER_RETRY_INITIAL_DELAY" envDefault:"1s"`
	RetryMaxDelay     time.Duration `env:"CRAWLER_RETRY_MAX_DELAY" envDefault:"30s"`

	// RunDuration limits a one-off invocation; zero runs until shutdown.
	RunDuration time.Duration `env:"CRAWLER_RUN_DURATION" envDefault:"0"`

	// Ops HTTP surface and tuning channel.
	ListenAddr   string `env:"CRAWLER_LISTEN_ADDR" envDefault:":8081"`
	RedisEnabled bool   `env:"CRAWLER_REDIS_ENABLED" envDefault:"true"`
}

// LoadConfig parses the configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ApplicationID == "" {
		return fmt.Errorf("WG_APPLICATION_ID is required")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BatchConcurrency <= 0 || c.AccountConcurrency <= 0 {
		return fmt.Errorf("concurrency limits must be positive, got batch=%d account=%d",
			c.BatchConcurrency, c.AccountConcurrency)
	}
	if c.OffsetFloor > c.OffsetCeiling {
		return fmt.Errorf("offset floor %v exceeds ceiling %v", c.OffsetFloor, c.OffsetCeiling)
	}
	if c.OffsetStep <= 0 {
		return fmt.Errorf("offset step must be positive, got %v", c.OffsetStep)
	}
	if c.TargetSweep <= 0 {
		return fmt.Errorf("target sweep duration must be positive, got %v", c.TargetSweep)
	}
	if c.LagPercentile <= 0 || c.LagPercentile > 1 {
		return fmt.Errorf("lag percentile must be in (0, 1], got %v", c.LagPercentile)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive, got %d", c.MaxRetries)
	}
	return nil
}
