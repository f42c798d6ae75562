// services/payment-service/cmd/app.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/breaker"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/config"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/logging"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/metrics"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
	stripegw "github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment/processor/stripe"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/store/postgres"
)

// app holds the pieces every subcommand shares.
type app struct {
	cfg     *config.PaymentConfig
	logger  *zap.Logger
	db      *sql.DB
	store   *postgres.Store
	metrics *metrics.Prometheus
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}
	if !cfg.CommonConfig.HasDatabase() {
		return nil, errors.New("DB_HOST and DB_NAME are required")
	}
	db, err := postgres.Open(ctx, cfg.CommonConfig.GetDBURL(), cfg.DBMaxOpenConns)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		store:   postgres.NewStore(db),
		metrics: metrics.NewPrometheus(),
	}
	a.onClose(db.Close)
	return a, nil
}

// paymentService wires the guarded processor into the orchestrator.
func (a *app) paymentService(opts ...payment.Option) (*payment.PaymentService, error) {
	gateway, err := stripegw.NewGateway(stripegw.Config{
		SecretKey:     a.cfg.Stripe.SecretKey,
		WebhookSecret: a.cfg.Stripe.WebhookSecret,
		BackendURL:    a.cfg.Stripe.BackendURL,
	}, a.logger.Named("stripe"))
	if err != nil {
		return nil, err
	}
	b, err := breaker.New(stripegw.Provider, a.cfg.Breaker,
		breaker.WithLogger(a.logger.Named("breaker")),
		breaker.WithStateListener(a.metrics.BreakerListener),
	)
	if err != nil {
		return nil, err
	}
	base := []payment.Option{
		payment.WithRetryPolicy(a.cfg.Retry),
		payment.WithLogger(a.logger),
		payment.WithMetrics(a.metrics),
		payment.WithOperationTimeout(a.cfg.OperationTimeout),
	}
	return payment.NewPaymentService(a.store, breaker.Guard(gateway, b), append(base, opts...)...)
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close runs closers in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
