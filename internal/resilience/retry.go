package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultMaxJitter   = 500 * time.Millisecond
)

// Policy retries fn while it fails with a retryable error, waiting
// min(BaseDelay*2^(attempt-1) + jitter, MaxDelay) between attempts.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration

	// Retryable defaults to IsTransient.
	Retryable func(error) bool
	// Sleep and Jitter are replaced in tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
}

func DefaultPolicy(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}

		delay := p.Delay(attempt)
		metrics.RetriesTotal.WithLabelValues(p.Name).Inc()
		logx.Named("retry").Infow("retry_scheduled",
			"op", p.Name,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift >= 63 || p.BaseDelay > time.Duration(math.MaxInt64>>shift) {
		if p.MaxDelay > 0 {
			return p.MaxDelay
		}
		return time.Duration(math.MaxInt64)
	}
	d := p.BaseDelay << shift
	if p.MaxJitter > 0 {
		jitter := p.Jitter
		if jitter == nil {
			jitter = randomJitter
		}
		d += jitter(p.MaxJitter)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func randomJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int64N(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type statusCoder interface {
	StatusCode() int
}

var transientMessages = []string{
	"rate limit",
	"overloaded",
	"timeout",
	"timed out",
	"connection reset",
	"unavailable",
}

// IsTransient reports whether err looks like a temporary failure of a
// remote call: throttling, 5xx gateway/overload statuses, timeouts, resets
// and DNS lookups.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
