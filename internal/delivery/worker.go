// Package delivery sends the messages of a campaign in bounded batches and
// records the outcome of every recipient.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Mutter0815/SegmentMailer/internal/campaign"
	"github.com/Mutter0815/SegmentMailer/internal/errs"
	"github.com/Mutter0815/SegmentMailer/internal/store"
	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
)

type LogStore interface {
	ClaimCampaign(ctx context.Context, id int64) (bool, error)
	GetCampaign(ctx context.Context, id int64) (store.CampaignRow, error)
	ListPendingLogs(ctx context.Context, campaignID int64) ([]store.PendingLog, error)
	UpdateLogStatus(ctx context.Context, logID int64, status, errMsg string) error
	UpdateCampaignFinal(ctx context.Context, id int64, sent, failed int, status string) error
	UpdateCampaignStatus(ctx context.Context, id int64, status string) error
}

type Report struct {
	CampaignID int64
	Sent       int
	Failed     int
	Status     campaign.Status
	// Skipped is set when another run already owns the campaign.
	Skipped bool
}

type Worker struct {
	Store      LogStore
	Sender     Sender
	BatchSize  int
	BatchDelay time.Duration
	// Limiter throttles individual sends when set.
	Limiter *rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[int64]struct{}
}

type Option func(*Worker)

func WithBatch(size int, delay time.Duration) Option {
	return func(w *Worker) {
		if size > 0 {
			w.BatchSize = size
		}
		if delay >= 0 {
			w.BatchDelay = delay
		}
	}
}

// WithRateLimit allows at most perSec sends per second. Zero disables it.
func WithRateLimit(perSec float64) Option {
	return func(w *Worker) {
		if perSec > 0 {
			w.Limiter = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
		}
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = fn }
}

func NewWorker(st LogStore, sender Sender, opts ...Option) *Worker {
	w := &Worker{
		Store:      st,
		Sender:     sender,
		BatchSize:  DefaultBatchSize,
		BatchDelay: DefaultBatchDelay,
		sleep:      sleepCtx,
		inflight:   make(map[int64]struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Process delivers every PENDING log of the campaign and writes the final
// counts and status. A store failure aborts the run and marks the campaign
// FAILED; individual send failures are recorded on their logs.
func (w *Worker) Process(ctx context.Context, campaignID int64) (Report, error) {
	log := logx.Named("delivery").With("campaign_id", campaignID)
	rep := Report{CampaignID: campaignID}

	if !w.acquire(campaignID) {
		log.Warnw("delivery_skipped", "reason", "in_flight")
		rep.Skipped = true
		return rep, nil
	}
	defer w.release(campaignID)

	claimed, err := w.Store.ClaimCampaign(ctx, campaignID)
	if err != nil {
		return rep, w.abort(ctx, campaignID, fmt.Errorf("claim campaign: %w", err))
	}
	if !claimed {
		log.Warnw("delivery_skipped", "reason", "not_pending")
		rep.Skipped = true
		return rep, nil
	}

	start := time.Now()
	camp, err := w.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return rep, w.abort(ctx, campaignID, fmt.Errorf("load campaign: %w", err))
	}
	logs, err := w.Store.ListPendingLogs(ctx, campaignID)
	if err != nil {
		return rep, w.abort(ctx, campaignID, fmt.Errorf("load pending logs: %w", err))
	}
	log.Infow("delivery_started", "pending", len(logs), "batch_size", w.BatchSize)

	size := max(w.BatchSize, 1)
	for from := 0; from < len(logs); from += size {
		if from > 0 && w.BatchDelay > 0 {
			if err := w.sleep(ctx, w.BatchDelay); err != nil {
				return rep, w.abort(ctx, campaignID, err)
			}
		}
		batch := logs[from:min(from+size, len(logs))]

		bStart := time.Now()
		sent, failed, err := w.sendBatch(ctx, camp, batch)
		metrics.WorkerBatchDuration.Observe(time.Since(bStart).Seconds())
		if err != nil {
			return rep, w.abort(ctx, campaignID, err)
		}
		rep.Sent += sent
		rep.Failed += failed
		log.Debugw("batch_done", "from", from, "size", len(batch), "sent", sent, "failed", failed)
	}

	rep.Status = campaign.FinalStatus(camp.TotalRecipients, rep.Sent, rep.Failed)
	if err := w.Store.UpdateCampaignFinal(ctx, campaignID, rep.Sent, rep.Failed, string(rep.Status)); err != nil {
		return rep, w.abort(ctx, campaignID, fmt.Errorf("finalize campaign: %w", err))
	}

	metrics.WorkerCampaignsFinished.WithLabelValues(string(rep.Status)).Inc()
	metrics.WorkerProcessDuration.Observe(time.Since(start).Seconds())
	log.Infow("delivery_finished",
		"sent", rep.Sent,
		"failed", rep.Failed,
		"status", rep.Status,
		"duration", time.Since(start).Seconds(),
	)
	return rep, nil
}

// sendBatch sends all logs of one batch concurrently and waits for every
// one of them. Only store errors are returned.
func (w *Worker) sendBatch(ctx context.Context, camp store.CampaignRow, batch []store.PendingLog) (int, int, error) {
	ok := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range batch {
		g.Go(func() error {
			if w.Limiter != nil {
				if err := w.Limiter.Wait(gctx); err != nil {
					return err
				}
			}
			rcpt := Recipient{Email: l.Email, Name: l.Name}
			if sendErr := w.Sender.Send(gctx, rcpt, camp.MessageTemplate, camp.Name); sendErr != nil {
				metrics.WorkerMessagesFailed.Inc()
				logx.Named("delivery").Infow("send_failed",
					"campaign_id", camp.ID, "log_id", l.ID, "customer_id", l.CustomerID, "error", sendErr)
				if err := w.Store.UpdateLogStatus(gctx, l.ID, campaign.LogFailed, sendErr.Error()); err != nil {
					return fmt.Errorf("mark log %d failed: %w", l.ID, err)
				}
				return nil
			}
			metrics.WorkerMessagesSent.Inc()
			if err := w.Store.UpdateLogStatus(gctx, l.ID, campaign.LogSent, ""); err != nil {
				return fmt.Errorf("mark log %d sent: %w", l.ID, err)
			}
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	sent := 0
	for _, v := range ok {
		if v {
			sent++
		}
	}
	return sent, len(batch) - sent, nil
}

func (w *Worker) abort(ctx context.Context, campaignID int64, cause error) error {
	err := cause
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if uerr := w.Store.UpdateCampaignStatus(uctx, campaignID, string(campaign.StatusFailed)); uerr != nil {
		err = multierror.Append(cause, fmt.Errorf("mark campaign failed: %w", uerr))
	}

	metrics.WorkerCampaignsFinished.WithLabelValues(string(campaign.StatusFailed)).Inc()
	logx.Named("delivery").Errorw("delivery_aborted", "campaign_id", campaignID, "error", err)
	return errs.Internal(err)
}

func (w *Worker) acquire(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[id]; busy {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) release(id int64) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
