package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/SegmentMailer/internal/audience"
	"github.com/Mutter0815/SegmentMailer/internal/campaign"
	"github.com/Mutter0815/SegmentMailer/internal/delivery"
	"github.com/Mutter0815/SegmentMailer/internal/nlrules"
	"github.com/Mutter0815/SegmentMailer/internal/nlrules/gemini"
	"github.com/Mutter0815/SegmentMailer/internal/resilience"
	"github.com/Mutter0815/SegmentMailer/internal/store"
	"github.com/Mutter0815/SegmentMailer/pkg/config"
	"github.com/Mutter0815/SegmentMailer/pkg/db"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/rmq"
	"github.com/Mutter0815/SegmentMailer/services/campaign-api/server"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		} else {
			logx.L().Infow("db_closed")
		}
	}()

	st := store.New(sqlDB)

	var (
		submitter campaign.Submitter
		local     *delivery.LocalQueue
	)
	switch cfg.QueueMode {
	case config.QueueAMQP:
		pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logx.L().Warnw("rmq_publisher_close_error", "error", err)
			} else {
				logx.L().Infow("rmq_publisher_closed")
			}
		}()
		submitter = delivery.NewAMQPSubmitter(pub)
	default:
		w := delivery.NewWorker(st, newSender(cfg.Delivery),
			delivery.WithBatch(cfg.Delivery.BatchSize, cfg.Delivery.BatchDelay),
			delivery.WithRateLimit(cfg.Delivery.RatePerSec),
		)
		local = delivery.NewLocalQueue(w)
		submitter = local
	}
	logx.L().Infow("queue_mode", "mode", cfg.QueueMode)

	svc := campaign.NewService(st, audience.NewResolver(st), newGenerator(cfg.AI), submitter, cfg.MaxRecipients)
	h := server.NewHandlers(svc, sqlDB.PingContext)
	srv := server.NewHTTPServer(":"+cfg.Port, h)

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	if local != nil {
		qctx, qcancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer qcancel()
		if err := local.Close(qctx); err != nil {
			logx.L().Warnw("queue_drain_incomplete", "error", err)
		} else {
			logx.L().Infow("queue_drained")
		}
	}

	logx.L().Infow("campaign-api stopped gracefully")
}

func newGenerator(cfg config.AIConfig) *nlrules.Generator {
	retry := resilience.DefaultPolicy("nlrules")
	retry.MaxAttempts = cfg.RetryAttempts
	retry.BaseDelay = cfg.RetryBaseDelay
	retry.MaxDelay = cfg.RetryMaxDelay
	retry.MaxJitter = cfg.RetryJitter
	breaker := resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout, resilience.WithName("nlrules"))

	var model nlrules.Model
	if cfg.APIKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gm, err := gemini.New(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			logx.L().Warnw("ai_model_init_error", "error", err)
		} else {
			model = gm
			logx.L().Infow("ai_model_ready", "model", cfg.Model)
		}
	} else {
		logx.L().Infow("ai_model_disabled", "reason", "GEMINI_API_KEY not set")
	}

	gen := nlrules.NewGenerator(model, breaker, retry, nil)
	if cfg.MinPromptLength > 0 {
		gen.MinPromptLength = cfg.MinPromptLength
	}
	return gen
}

func newSender(cfg config.DeliveryConfig) delivery.Sender {
	if cfg.SMTPHost == "" {
		logx.L().Infow("sender_simulated", "failure_rate", cfg.FailureRate)
		return delivery.NewSimulatedSender(cfg.FailureRate, 0)
	}
	logx.L().Infow("sender_smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	return delivery.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.FromAddr, cfg.FromName, cfg.SMTPTimeout)
}
