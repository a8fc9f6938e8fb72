// Package throttle bounds and retries calls to the inference services. One
// Throttle is shared by every adapter in a run so the concurrency limit is
// global across files.
package throttle

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bdougie/mediadescriber/internal/apperr"
)

const (
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	backoffFactor         = 2.0
)

// Policy controls retries and the per-attempt deadline of one kind of call.
type Policy struct {
	MaxRetries     int
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewPolicy returns a Policy with the default backoff curve.
func NewPolicy(maxRetries int, timeout time.Duration) Policy {
	return Policy{
		MaxRetries:     maxRetries,
		Timeout:        timeout,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// Throttle limits concurrent calls and, optionally, their rate.
type Throttle struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
}

// New returns a Throttle admitting concurrency simultaneous calls.
// requestsPerMinute <= 0 means no rate limit.
func New(concurrency, requestsPerMinute int, logger *slog.Logger) *Throttle {
	if concurrency < 1 {
		concurrency = 1
	}
	t := &Throttle{
		sem: semaphore.NewWeighted(int64(concurrency)),
		log: logger.With("component", "throttle"),
	}
	if requestsPerMinute > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerMinute)/60, 1)
	}
	return t
}

// Do runs fn under the concurrency and rate limits, retrying retryable
// apperr.ClientErrors with exponential backoff. The returned error carries
// the number of attempts made when it is a ClientError.
func (t *Throttle) Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var err error
	attempts := p.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err = t.attempt(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !apperr.IsRetryable(err) || attempt == attempts {
			return withAttempts(err, attempt)
		}

		wait := backoff(p, attempt)
		t.log.Warn("call failed, retrying", "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return withAttempts(err, attempt)
		}
	}
	return err
}

func (t *Throttle) attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limit")
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

func backoff(p Policy, attempt int) time.Duration {
	initial, max := p.InitialBackoff, p.MaxBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	if max <= 0 {
		max = defaultMaxBackoff
	}
	d := time.Duration(float64(initial) * math.Pow(backoffFactor, float64(attempt-1)))
	if d > max {
		d = max
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}

func withAttempts(err error, attempts int) error {
	var ce *apperr.ClientError
	if errors.As(err, &ce) {
		ce.Attempts = attempts
	}
	return err
}
