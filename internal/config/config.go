// Package config binds guard-server flags, environment variables and an
// optional config file into a validated Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/manenim/gateway-guard/pkg/idempotency"
	"github.com/manenim/gateway-guard/pkg/limiter"
)

// EnvPrefix is prepended to every environment variable, e.g. GUARD_REDIS_ADDR.
const EnvPrefix = "GUARD"

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	Listen   string
	Store    string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreTimeout  time.Duration

	Prefix string

	RateAlgorithm limiter.Algorithm
	RateLimit     int64
	RatePeriod    time.Duration
	RateBurst     int64
	RateFailOpen  bool
	RateKeyHeader string

	LockTTL  time.Duration
	LockWait time.Duration

	IdemLockTTL       time.Duration
	IdemRecordTTL     time.Duration
	IdemWait          time.Duration
	IdemRenew         time.Duration
	IdemFailFast      bool
	IdemDiscardErrors bool

	MetricsEnabled bool
}

// BindFlags registers every setting on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to a YAML, TOML or JSON config file")
	fs.String("listen", ":8080", "listen address")
	fs.String("store", StoreRedis, "key store backend (redis, memory)")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	fs.String("redis-addr", "localhost:6379", "redis address")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database")
	fs.Duration("store-timeout", 100*time.Millisecond, "per-call key store timeout for the rate limiter")

	fs.String("prefix", "guard:", "key prefix shared by all primitives")

	fs.String("rate-algorithm", string(limiter.TokenBucket), "rate limit algorithm (token_bucket, sliding_window)")
	fs.Int64("rate-limit", 5, "tokens per period (token bucket) or requests per window (sliding window)")
	fs.Duration("rate-period", time.Second, "refill period or window length")
	fs.Int64("rate-burst", 10, "token bucket capacity")
	fs.Bool("rate-fail-open", false, "admit requests when the rate limiter store is unavailable")
	fs.String("rate-key-header", "X-API-Key", "header identifying the rate-limited caller")

	fs.Duration("lock-ttl", 10*time.Second, "lease TTL for locked endpoints")
	fs.Duration("lock-wait", 0, "how long a locked endpoint waits for the current holder")

	fs.Duration("idem-lock-ttl", 30*time.Second, "maximum execution time of an idempotent request")
	fs.Duration("idem-record-ttl", 24*time.Hour, "how long idempotent responses are replayed")
	fs.Duration("idem-wait", 5*time.Second, "how long a duplicate waits for the first execution")
	fs.Duration("idem-renew", 0, "renew the execution lock at this interval (0 disables)")
	fs.Bool("idem-fail-fast", false, "reject duplicates in flight instead of waiting")
	fs.Bool("idem-discard-errors", false, "do not cache failed executions")

	fs.Bool("metrics", true, "expose Prometheus metrics on /metrics")
}

// NewViper returns a viper instance bound to fs and to GUARD_* environment
// variables.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Load reads the optional config file named by "config" and decodes v.
func Load(v *viper.Viper) (Config, error) {
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	cfg := Config{
		Listen:            v.GetString("listen"),
		Store:             strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		LogLevel:          v.GetString("log-level"),
		RedisAddr:         v.GetString("redis-addr"),
		RedisPassword:     v.GetString("redis-password"),
		RedisDB:           v.GetInt("redis-db"),
		StoreTimeout:      v.GetDuration("store-timeout"),
		Prefix:            v.GetString("prefix"),
		RateAlgorithm:     limiter.Algorithm(strings.ToLower(v.GetString("rate-algorithm"))),
		RateLimit:         v.GetInt64("rate-limit"),
		RatePeriod:        v.GetDuration("rate-period"),
		RateBurst:         v.GetInt64("rate-burst"),
		RateFailOpen:      v.GetBool("rate-fail-open"),
		RateKeyHeader:     v.GetString("rate-key-header"),
		LockTTL:           v.GetDuration("lock-ttl"),
		LockWait:          v.GetDuration("lock-wait"),
		IdemLockTTL:       v.GetDuration("idem-lock-ttl"),
		IdemRecordTTL:     v.GetDuration("idem-record-ttl"),
		IdemWait:          v.GetDuration("idem-wait"),
		IdemRenew:         v.GetDuration("idem-renew"),
		IdemFailFast:      v.GetBool("idem-fail-fast"),
		IdemDiscardErrors: v.GetBool("idem-discard-errors"),
		MetricsEnabled:    v.GetBool("metrics"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RateLimitPolicy is the limiter.Limit described by the rate-* settings.
func (c Config) RateLimitPolicy() limiter.Limit {
	return limiter.Limit{
		Algorithm: c.RateAlgorithm,
		Rate:      c.RateLimit,
		Period:    c.RatePeriod,
		Burst:     c.RateBurst,
	}
}

// Idempotency is the idempotency.Config described by the idem-* settings.
func (c Config) Idempotency() idempotency.Config {
	cfg := idempotency.Config{
		LockTTL:       c.IdemLockTTL,
		RecordTTL:     c.IdemRecordTTL,
		WaitTimeout:   c.IdemWait,
		RenewInterval: c.IdemRenew,
	}
	if c.IdemFailFast {
		cfg.Duplicate = idempotency.DuplicateFailFast
	}
	if c.IdemDiscardErrors {
		cfg.Failure = idempotency.DiscardFailures
	}
	return cfg
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis-addr is required for the redis store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store-timeout must be positive"))
	}
	if err := c.RateLimitPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock-ttl must be positive"))
	}
	if c.LockWait < 0 {
		errs = append(errs, errors.New("lock-wait must not be negative"))
	}
	if err := c.Idempotency().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
