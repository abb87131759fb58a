package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
	"github.com/Mutter0815/SegmentMailer/pkg/model"
)

var (
	ErrQueueClosed = errors.New("delivery queue is closed")
	ErrUnknownJob  = errors.New("unknown delivery job")
)

type Processor interface {
	Process(ctx context.Context, campaignID int64) (Report, error)
}

type jobState struct {
	done   chan struct{}
	report Report
	err    error
}

// LocalQueue runs each submitted campaign on its own goroutine, detached
// from the submitting request.
type LocalQueue struct {
	proc Processor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	jobs     map[string]*jobState
	finished []string
	retain   int
}

func NewLocalQueue(p Processor) *LocalQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		proc:   p,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*jobState),
		retain: 1024,
	}
}

func (q *LocalQueue) Submit(ctx context.Context, campaignID int64) (model.DeliveryJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return model.DeliveryJob{}, ErrQueueClosed
	}

	job := model.DeliveryJob{
		JobID:       uuid.NewString(),
		CampaignID:  campaignID,
		SubmittedAt: time.Now().UTC(),
	}
	st := &jobState{done: make(chan struct{})}
	q.jobs[job.JobID] = st

	q.wg.Add(1)
	go q.run(job, st)

	metrics.SubmittedJobsTotal.WithLabelValues("local").Inc()
	logx.L().Infow("job_submitted", "queue", "local", "job_id", job.JobID, "campaign_id", campaignID)
	return job, nil
}

func (q *LocalQueue) run(job model.DeliveryJob, st *jobState) {
	defer q.wg.Done()
	metrics.WorkerJobsConsumed.Inc()

	rep, err := q.proc.Process(q.ctx, job.CampaignID)
	if err != nil {
		logx.L().Errorw("job_failed", "job_id", job.JobID, "campaign_id", job.CampaignID, "error", err)
	}

	q.mu.Lock()
	st.report, st.err = rep, err
	close(st.done)
	q.finished = append(q.finished, job.JobID)
	for len(q.finished) > q.retain {
		delete(q.jobs, q.finished[0])
		q.finished = q.finished[1:]
	}
	q.mu.Unlock()
}

// Wait blocks until the job finishes and returns its outcome.
func (q *LocalQueue) Wait(ctx context.Context, jobID string) (Report, error) {
	q.mu.Lock()
	st, ok := q.jobs[jobID]
	q.mu.Unlock()
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	select {
	case <-st.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		return st.report, st.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Close stops accepting jobs and waits for running ones. When ctx expires
// first, running jobs are cancelled and Close still waits for them to return.
func (q *LocalQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

type publisher interface {
	PublishJSON(ctx context.Context, body []byte) error
}

// AMQPSubmitter publishes jobs for the sender-worker service.
type AMQPSubmitter struct {
	Pub publisher
}

func NewAMQPSubmitter(pub publisher) *AMQPSubmitter { return &AMQPSubmitter{Pub: pub} }

func (s *AMQPSubmitter) Submit(ctx context.Context, campaignID int64) (model.DeliveryJob, error) {
	job := model.DeliveryJob{
		JobID:       uuid.NewString(),
		CampaignID:  campaignID,
		SubmittedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return model.DeliveryJob{}, err
	}
	if err := s.Pub.PublishJSON(ctx, body); err != nil {
		return model.DeliveryJob{}, fmt.Errorf("publish job: %w", err)
	}
	metrics.SubmittedJobsTotal.WithLabelValues("amqp").Inc()
	logx.L().Infow("job_submitted", "queue", "amqp", "job_id", job.JobID, "campaign_id", campaignID)
	return job, nil
}
