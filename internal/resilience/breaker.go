// Package resilience guards calls to fragile collaborators with a
// failure-count circuit breaker and a bounded retry policy.
package resilience

import (
	"sync"
	"time"

	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
)

const (
	DefaultBreakerThreshold = 3
	DefaultBreakerTimeout   = 60 * time.Second
)

type BreakerState struct {
	FailureCount int
	Open         bool
	OpenedAt     time.Time
}

// Breaker opens after Threshold recorded failures and closes itself again
// once Timeout has passed since it opened. Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	now       func() time.Time

	mu    sync.Mutex
	state BreakerState
}

type BreakerOption func(*Breaker)

func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

func WithName(name string) BreakerOption {
	return func(b *Breaker) { b.name = name }
}

func NewBreaker(threshold int, timeout time.Duration, opts ...BreakerOption) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}
	b := &Breaker{name: "default", threshold: threshold, timeout: timeout, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Permits reports whether a call may go through, closing an open breaker
// whose timeout has elapsed.
func (b *Breaker) Permits() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.Open {
		return true
	}
	if b.now().Sub(b.state.OpenedAt) > b.timeout {
		b.state = BreakerState{}
		metrics.BreakerOpen.WithLabelValues(b.name).Set(0)
		logx.Named("breaker").Infow("breaker_reset", "name", b.name)
		return true
	}
	return false
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.FailureCount++
	if b.state.FailureCount >= b.threshold {
		b.state.Open = true
		b.state.OpenedAt = b.now()
		metrics.BreakerOpen.WithLabelValues(b.name).Set(1)
		logx.Named("breaker").Warnw("breaker_open", "name", b.name, "failures", b.state.FailureCount)
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Open {
		metrics.BreakerOpen.WithLabelValues(b.name).Set(0)
	}
	b.state = BreakerState{}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
