// services/payment-service/cmd/serve.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/dedupe"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/events"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/intake"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/worker"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/shared/kafka"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/shared/rabbitmq"
)

const intakePrefetch = 10

func serveCmd() *cobra.Command {
	var noReconciler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook intake, the reconciliation sweep and the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, !noReconciler)
		},
	}
	cmd.Flags().BoolVar(&noReconciler, "no-reconciler", false, "do not run the periodic reconciliation sweep")
	return cmd
}

func runServe(ctx context.Context, withReconciler bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	common := a.cfg.CommonConfig
	log := a.logger

	var opts []payment.Option
	if common.KAFKA_BROKER != "" && common.KAFKA_TOPIC != "" {
		producer := kafka.NewKafkaProducer(common.KAFKA_BROKER, common.KAFKA_TOPIC)
		pub := events.NewPublisher(producer, log.Named("events"))
		a.onClose(pub.Close)
		opts = append(opts, payment.WithEventPublisher(pub))
		log.Info("publishing payment events", zap.String("topic", common.KAFKA_TOPIC))
	}
	if common.REDIS_ADDR != "" {
		rdb := dedupe.NewClient(common.REDIS_ADDR, common.REDIS_PASSWORD)
		a.onClose(rdb.Close)
		opts = append(opts, payment.WithDeduper(dedupe.NewRedisDeduper(rdb, a.cfg.DedupeTTL)))
	}
	svc, err := a.paymentService(opts...)
	if err != nil {
		return err
	}

	var consumer *intake.Consumer
	if common.RABBITMQ_HOST != "" {
		rabbit, err := rabbitmq.NewClient(common.GetRabbitMQURL())
		if err != nil {
			return err
		}
		a.onClose(rabbit.Close)
		topology := rabbitmq.Topology{
			Exchange: a.cfg.IntakeExchange,
			Queue:    a.cfg.IntakeQueue,
			Prefetch: intakePrefetch,
		}
		if err := rabbit.Declare(topology); err != nil {
			return err
		}
		consumer = intake.NewConsumer(rabbit, svc, a.cfg.IntakeQueue, log.Named("intake"))
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info("metrics listening", zap.String("addr", a.cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if withReconciler {
		r := worker.NewReconciler(a.store, svc, a.cfg.Reconciler.Worker(),
			worker.WithLogger(log.Named("reconciler")),
			worker.WithRecorder(a.metrics),
		)
		g.Go(func() error {
			r.Start(gctx)
			return nil
		})
	}

	log.Info("payment-service running", zap.String("version", Version))
	if err := g.Wait(); err != nil {
		log.Error("payment-service stopped with error", zap.Error(err))
		return err
	}
	log.Info("payment-service shutdown complete")
	return nil
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
