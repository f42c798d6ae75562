// services/payment-service/internal/config/config.paymentService.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/breaker"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/worker"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/shared/config"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BackendURL    string // empty for the real API
}

type ReconcilerConfig struct {
	Interval time.Duration
	Grace    time.Duration
	Batch    int
	Workers  int
}

func (r ReconcilerConfig) Worker() worker.Config {
	return worker.Config{Interval: r.Interval, Grace: r.Grace, Batch: r.Batch, Workers: r.Workers}
}

type PaymentConfig struct {
	CommonConfig *config.CommonConfig // DB, Kafka, RabbitMQ and Redis settings

	Stripe           StripeConfig
	Retry            payment.RetryPolicy
	Breaker          breaker.Config
	Reconciler       ReconcilerConfig
	OperationTimeout time.Duration

	LogLevel       string
	LogDevelopment bool
	MetricsAddr    string
	IntakeQueue    string
	IntakeExchange string
	DedupeTTL      time.Duration
	DBMaxOpenConns int
}

func setDefaults(v *viper.Viper) {
	b := breaker.DefaultConfig()
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.backend_url", "")
	v.SetDefault("retry.max_retries", payment.DefaultMaxRetries)
	v.SetDefault("retry.backoff", "1s,5s,15s")
	v.SetDefault("retry.conflict_retries", payment.DefaultConflictRetries)
	v.SetDefault("breaker.request_timeout", b.RequestTimeout)
	v.SetDefault("breaker.error_rate_threshold", b.ErrorRateThreshold)
	v.SetDefault("breaker.window", b.Window)
	v.SetDefault("breaker.min_requests", b.MinRequests)
	v.SetDefault("breaker.cool_down", b.CoolDown)
	v.SetDefault("breaker.half_open_trials", b.HalfOpenTrials)
	v.SetDefault("reconciler.interval", worker.DefaultInterval)
	v.SetDefault("reconciler.grace", worker.DefaultGrace)
	v.SetDefault("reconciler.batch", worker.DefaultBatch)
	v.SetDefault("reconciler.workers", worker.DefaultWorkers)
	v.SetDefault("operation_timeout", payment.DefaultOperationTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("intake.queue", "payments.webhooks")
	v.SetDefault("intake.exchange", "payments")
	v.SetDefault("dedupe.ttl", 72*time.Hour)
	v.SetDefault("db.max_open_conns", 20)
}

// LoadConfig reads .env (when present), the environment and an optional YAML file.
// Environment variables win: stripe.secret_key is STRIPE_SECRET_KEY.
func LoadConfig(path string) (*PaymentConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	backoff, err := durations(v.Get("retry.backoff"))
	if err != nil {
		return nil, fmt.Errorf("retry.backoff: %w", err)
	}

	cfg := &PaymentConfig{
		CommonConfig: config.LoadCommonConfig(),
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe.secret_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
			BackendURL:    v.GetString("stripe.backend_url"),
		},
		Retry: payment.RetryPolicy{
			MaxRetries:      v.GetInt("retry.max_retries"),
			Backoff:         backoff,
			ConflictRetries: v.GetInt("retry.conflict_retries"),
		},
		Breaker: breaker.Config{
			RequestTimeout:     v.GetDuration("breaker.request_timeout"),
			ErrorRateThreshold: v.GetFloat64("breaker.error_rate_threshold"),
			Window:             v.GetDuration("breaker.window"),
			MinRequests:        v.GetInt("breaker.min_requests"),
			CoolDown:           v.GetDuration("breaker.cool_down"),
			HalfOpenTrials:     v.GetInt("breaker.half_open_trials"),
		},
		Reconciler: ReconcilerConfig{
			Interval: v.GetDuration("reconciler.interval"),
			Grace:    v.GetDuration("reconciler.grace"),
			Batch:    v.GetInt("reconciler.batch"),
			Workers:  v.GetInt("reconciler.workers"),
		},
		OperationTimeout: v.GetDuration("operation_timeout"),
		LogLevel:         v.GetString("log.level"),
		LogDevelopment:   v.GetBool("log.development"),
		MetricsAddr:      v.GetString("metrics.addr"),
		IntakeQueue:      v.GetString("intake.queue"),
		IntakeExchange:   v.GetString("intake.exchange"),
		DedupeTTL:        v.GetDuration("dedupe.ttl"),
		DBMaxOpenConns:   v.GetInt("db.max_open_conns"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on settings the service cannot run with.
func (c *PaymentConfig) Validate() error {
	if c.Stripe.SecretKey == "" {
		return errors.New("STRIPE_SECRET_KEY is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if c.OperationTimeout <= 0 {
		return errors.New("operation timeout must be positive")
	}
	r := c.Reconciler
	if r.Interval <= 0 || r.Batch < 1 || r.Workers < 1 {
		return errors.New("reconciler interval, batch and workers must be positive")
	}
	// A use case may still be driving a record until its deadline passes.
	if r.Grace <= c.OperationTimeout {
		return fmt.Errorf("reconciler grace %s must exceed the operation timeout %s", r.Grace, c.OperationTimeout)
	}
	if c.IntakeQueue == "" {
		return errors.New("intake queue name is required")
	}
	if c.DedupeTTL <= 0 {
		return errors.New("dedupe ttl must be positive")
	}
	return nil
}

// durations accepts "1s,5s,15s" from the environment or a YAML list.
func durations(raw interface{}) ([]time.Duration, error) {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
	case []string:
		parts = val
	case []interface{}:
		for _, e := range val {
			parts = append(parts, fmt.Sprint(e))
		}
	default:
		return nil, fmt.Errorf("unsupported value %v", raw)
	}
	out := make([]time.Duration, 0, len(parts))
	for _, s := range parts {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
