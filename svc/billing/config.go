package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/seatledger/pkg/clientip"
	"github.com/dmitrymomot/seatledger/pkg/config"
	"github.com/dmitrymomot/seatledger/pkg/httpserver"
	"github.com/dmitrymomot/seatledger/pkg/mongo"
	"github.com/dmitrymomot/seatledger/pkg/pg"
	"github.com/dmitrymomot/seatledger/pkg/ratelimiter"
	"github.com/dmitrymomot/seatledger/pkg/redis"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// ErrInvalidConfig is returned for configuration values that fail validation.
var ErrInvalidConfig = errors.New("billing: invalid configuration")

// Config is the billing daemon configuration.
// Backend settings are loaded only for the selected backends.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"billingd"`
	LogLevel    string `env:"LOG_LEVEL"` // overrides the environment default

	CatalogPath string `env:"BILLING_CATALOG_PATH,required"`
	Store       string `env:"BILLING_STORE" envDefault:"memory"`
	Lock        string `env:"BILLING_LOCK" envDefault:"local"`

	LockTimeout   time.Duration `env:"BILLING_LOCK_TIMEOUT" envDefault:"10s"`
	LockTTL       time.Duration `env:"BILLING_LOCK_TTL" envDefault:"30s"`
	CacheSize     int           `env:"BILLING_CACHE_SIZE" envDefault:"10000"`
	FeedBuffer    int           `env:"BILLING_FEED_BUFFER" envDefault:"64"`
	DaysPerMonth  int           `env:"BILLING_DAYS_PER_MONTH" envDefault:"30"`
	MonthRounding string        `env:"BILLING_MONTH_ROUNDING" envDefault:"floor"`
	MaxBodyBytes  int64         `env:"BILLING_MAX_BODY_BYTES" envDefault:"1048576"`

	// Proxy headers trusted for the source address of deliveries, in order.
	ClientIPHeaders []string `env:"HTTP_CLIENT_IP_HEADERS" envSeparator:","`

	// RateLimit throttles deliveries per channel and source address.
	RateLimitEnabled bool               `env:"BILLING_RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimit        ratelimiter.Config `envPrefix:"BILLING_RATE_LIMIT_"`

	// TestMode accepts unsigned webhooks even when channel secrets are set.
	TestMode bool `env:"BILLING_TEST_MODE" envDefault:"false"`

	WeCom  WeComConfig
	Paddle PaddleConfig
	Notify NotifyConfig
	HTTP   httpserver.Config

	// Filled by LoadConfig for the selected backends only.
	Postgres *pg.Config
	Mongo    *mongo.Config
	Redis    *redis.Config
}

// WeComConfig enables the enterprise marketplace channel.
type WeComConfig struct {
	Enabled    bool     `env:"WECOM_ENABLED" envDefault:"true"`
	SuiteID    string   `env:"WECOM_SUITE_ID"`
	Secret     string   `env:"WECOM_WEBHOOK_SECRET"`
	AllowedIPs []string `env:"WECOM_ALLOWED_IPS" envSeparator:","`
}

// PaddleConfig enables the payment provider channel.
type PaddleConfig struct {
	Enabled       bool     `env:"PADDLE_ENABLED" envDefault:"false"`
	WebhookSecret string   `env:"PADDLE_WEBHOOK_SECRET"`
	AllowedIPs    []string `env:"PADDLE_ALLOWED_IPS" envSeparator:","`
}

// NotifyConfig enables downstream state notifications.
type NotifyConfig struct {
	URL             string        `env:"BILLING_NOTIFY_URL"`
	Secret          string        `env:"BILLING_NOTIFY_SECRET"`
	Timeout         time.Duration `env:"BILLING_NOTIFY_TIMEOUT" envDefault:"5s"`
	Retries         int           `env:"BILLING_NOTIFY_RETRIES" envDefault:"3"`
	QueueSize       int           `env:"BILLING_NOTIFY_QUEUE_SIZE" envDefault:"1024"`
	BreakerFailures int           `env:"BILLING_NOTIFY_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown time.Duration `env:"BILLING_NOTIFY_BREAKER_COOLDOWN" envDefault:"30s"`
}

// LoadConfig reads Config and the settings of the selected backends.
func LoadConfig(opts ...config.Option) (Config, error) {
	cfg, err := config.Load[Config](opts...)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Store {
	case StorePostgres:
		pgCfg, err := config.Load[pg.Config](opts...)
		if err != nil {
			return Config{}, err
		}
		cfg.Postgres = &pgCfg
	case StoreMongo:
		mongoCfg, err := config.Load[mongo.Config](opts...)
		if err != nil {
			return Config{}, err
		}
		cfg.Mongo = &mongoCfg
	}
	if cfg.Lock == LockRedis {
		redisCfg, err := config.Load[redis.Config](opts...)
		if err != nil {
			return Config{}, err
		}
		cfg.Redis = &redisCfg
	}

	return cfg, cfg.Validate()
}

// Validate checks values the env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StorePostgres, StoreMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store))
	}
	switch c.Lock {
	case LockLocal, LockRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown lock backend %q", c.Lock))
	}
	if c.Store == StorePostgres && c.Postgres == nil {
		errs = append(errs, errors.New("postgres settings are missing"))
	}
	if c.Store == StoreMongo && c.Mongo == nil {
		errs = append(errs, errors.New("mongo settings are missing"))
	}
	if c.Lock == LockRedis && c.Redis == nil {
		errs = append(errs, errors.New("redis settings are missing"))
	}
	if c.Lock == LockRedis && c.LockTTL < time.Second {
		errs = append(errs, fmt.Errorf("lock ttl must be at least 1s, got %s", c.LockTTL))
	}
	if c.DaysPerMonth <= 0 {
		errs = append(errs, fmt.Errorf("days per month must be positive, got %d", c.DaysPerMonth))
	}
	if c.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("negative cache size %d", c.CacheSize))
	}
	if !c.WeCom.Enabled && !c.Paddle.Enabled {
		errs = append(errs, errors.New("no billing channel enabled"))
	}
	if c.Paddle.Enabled && c.Paddle.WebhookSecret == "" && !c.TestMode {
		errs = append(errs, errors.New("paddle webhook secret is required outside test mode"))
	}
	for name, ips := range map[string][]string{"wecom": c.WeCom.AllowedIPs, "paddle": c.Paddle.AllowedIPs} {
		if _, err := clientip.ParseAllowlist(ips); err != nil {
			errs = append(errs, fmt.Errorf("%s allowed ips: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// LeaseTimeout is the longest a reconciliation may run under a Redis lock.
// It leaves a fifth of the lock TTL as margin; local locks never expire.
func (c Config) LeaseTimeout() time.Duration {
	if c.Lock != LockRedis {
		return 0
	}
	return c.LockTTL - c.LockTTL/5
}
