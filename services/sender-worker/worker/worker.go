package worker

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Mutter0815/SegmentMailer/internal/delivery"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
	"github.com/Mutter0815/SegmentMailer/pkg/model"
)

type source interface {
	Consume() (<-chan amqp.Delivery, error)
}

// Worker turns queued DeliveryJobs into campaign runs. Every delivery is
// acked once its run returns; a failed run has already marked the campaign
// FAILED and is not retried.
type Worker struct {
	Proc delivery.Processor
	Cons source
	// RunTimeout bounds a single campaign run. Zero means no bound.
	RunTimeout time.Duration
}

func New(proc delivery.Processor, cons source) *Worker {
	return &Worker{Proc: proc, Cons: cons}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.Cons.Consume()
	if err != nil {
		return err
	}
	logx.L().Infow("worker_started")

	for {
		select {
		case <-ctx.Done():
			logx.L().Infow("worker_stopping")
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				logx.L().Warnw("consumer_channel_closed")
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	metrics.WorkerJobsConsumed.Inc()
	defer func() {
		if err := d.Ack(false); err != nil {
			logx.L().Errorw("job_ack_error", "delivery_tag", d.DeliveryTag, "error", err)
		}
	}()

	var job model.DeliveryJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.CampaignID <= 0 {
		logx.L().Warnw("job_unmarshal_error", "error", err, "body", string(d.Body))
		return
	}
	fields := []any{"job_id", job.JobID, "campaign_id", job.CampaignID}

	rctx, cancel := ctx, context.CancelFunc(func() {})
	if w.RunTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, w.RunTimeout)
	}
	defer cancel()

	rep, err := w.Proc.Process(rctx, job.CampaignID)
	if err != nil {
		logx.L().Errorw("job_failed", append(fields, "error", err)...)
		return
	}
	logx.L().Infow("job_done", append(fields,
		"sent", rep.Sent,
		"failed", rep.Failed,
		"status", rep.Status,
		"skipped", rep.Skipped,
		"duration", time.Since(start).Seconds(),
	)...)
}
