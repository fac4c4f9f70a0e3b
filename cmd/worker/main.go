package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/menudeck/webhooks/internal/config"
	"github.com/menudeck/webhooks/internal/db"
	"github.com/menudeck/webhooks/internal/delivery"
	"github.com/menudeck/webhooks/internal/dispatcher"
	"github.com/menudeck/webhooks/internal/health"
	"github.com/menudeck/webhooks/internal/logging"
	"github.com/menudeck/webhooks/internal/metrics"
	"github.com/menudeck/webhooks/internal/retry"
	"github.com/menudeck/webhooks/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := logging.New("webhooks-worker")

	shutdown, err := tracing.InitTracing(ctx, "webhooks-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN(), int32(cfg.DB.MaxConns))
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	ledger := delivery.NewStore(pool)
	startBacklogMonitor(ctx, ledger)

	opts := []dispatcher.Option{}
	if cfg.NSQ.PublishDLQ {
		producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer producer.Stop()
		opts = append(opts, dispatcher.WithDeadLetterPublisher(producer))
	}

	pool2 := dispatcher.New(ledger, dispatcher.Config{
		Workers:               cfg.Dispatcher.Workers,
		PollInterval:          cfg.Dispatcher.PollInterval,
		BatchSize:             cfg.Dispatcher.BatchSize,
		HTTPTimeout:           cfg.Dispatcher.HTTPTimeout,
		StaleAfter:            cfg.Dispatcher.StaleAfter,
		FailDisabledEndpoints: cfg.Dispatcher.DisabledEndpoint == config.PolicyFail,
		Backoff: retry.Policy{
			Base:      cfg.Dispatcher.RetryBase,
			Cap:       cfg.Dispatcher.RetryCap,
			JitterPct: cfg.Dispatcher.JitterPercent,
		},
		SignatureHeader:  cfg.Webhook.SignatureHeader,
		TimestampHeader:  cfg.Webhook.TimestampHeader,
		EventHeader:      cfg.Webhook.EventHeader,
		DeliveryHeader:   cfg.Webhook.DeliveryHeader,
		UserAgent:        cfg.Webhook.UserAgent,
		DLQTopic:         cfg.NSQ.DLQTopic,
		BreakerThreshold: cfg.Dispatcher.BreakerThreshold,
		BreakerReset:     cfg.Dispatcher.BreakerReset,
	}, opts...)

	logger.Plain().WithFields(map[string]any{
		"workers":    cfg.Dispatcher.Workers,
		"batch_size": cfg.Dispatcher.BatchSize,
	}).Info("worker service started")

	pool2.Run(ctx)

	logger.Plain().Info("Shutting down worker service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}

// startBacklogMonitor periodically refreshes the per-status backlog gauges
// from the ledger.
func startBacklogMonitor(ctx context.Context, ledger *delivery.Store) {
	go func() {
		logger := logging.New("webhooks-worker-monitor")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		statuses := []delivery.Status{
			delivery.StatusPending,
			delivery.StatusInflight,
			delivery.StatusRetrying,
			delivery.StatusSucceeded,
			delivery.StatusFailed,
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			counts, err := ledger.CountByStatus(ctx)
			if err != nil {
				logger.Plain().WithError(err).Error("backlog count failed")
				continue
			}
			// Statuses with no rows still need their gauge reset.
			for _, st := range statuses {
				metrics.UpdateBacklog(string(st), float64(counts[st]))
			}
		}
	}()
}
