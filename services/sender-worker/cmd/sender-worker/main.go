package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/SegmentMailer/internal/delivery"
	"github.com/Mutter0815/SegmentMailer/internal/store"
	"github.com/Mutter0815/SegmentMailer/pkg/config"
	"github.com/Mutter0815/SegmentMailer/pkg/db"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
	"github.com/Mutter0815/SegmentMailer/pkg/rmq"
	"github.com/Mutter0815/SegmentMailer/services/sender-worker/worker"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadWorker()
	cfg := config.Worker

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	cons, err := rmq.NewConsumer(cfg.RMQURL, cfg.Queue, 1)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer cons.Close()

	dw := delivery.NewWorker(store.New(sqlDB), newSender(cfg.Delivery),
		delivery.WithBatch(cfg.Delivery.BatchSize, cfg.Delivery.BatchDelay),
		delivery.WithRateLimit(cfg.Delivery.RatePerSec),
	)
	w := worker.New(dw, cons)
	w.RunTimeout = cfg.RunTimeout

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	msrv := &http.Server{Addr: ":9091", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Warnw("metrics_server_error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.L().Errorw("worker_error", "error", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = msrv.Shutdown(sctx)
	logx.L().Infow("sender-worker stopped gracefully")
}

func newSender(cfg config.DeliveryConfig) delivery.Sender {
	if cfg.SMTPHost == "" {
		logx.L().Infow("sender_simulated", "failure_rate", cfg.FailureRate)
		return delivery.NewSimulatedSender(cfg.FailureRate, 0)
	}
	logx.L().Infow("sender_smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	return delivery.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.FromAddr, cfg.FromName, cfg.SMTPTimeout)
}
