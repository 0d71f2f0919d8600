package graph

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/relaydesk/graphgate/helper"
	"github.com/relaydesk/graphgate/logger"
)

// Defaults for RetryOptions.
const (
	DefaultMaxRetries        = 3
	DefaultAttemptTimeout    = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxBackoff        = 60 * time.Second

	baseBackoff   = 1 * time.Second
	jitterCeiling = 1 * time.Second
)

// RetryOptions tunes one ExecuteWithRetry call. Zero values fall back to
// the package defaults.
type RetryOptions struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Set MaxRetries < 0 for a single attempt with no retries.
	MaxRetries int

	// Timeout bounds each individual attempt, not the whole sequence.
	Timeout time.Duration

	// BackoffMultiplier grows the delay between attempts.
	BackoffMultiplier float64

	// MaxBackoff caps the computed delay, jitter included.
	MaxBackoff time.Duration

	// ShouldRetry overrides the default classification-based policy.
	// It receives the attempt's error and the zero-based attempt index.
	ShouldRetry func(err error, attempt int) bool
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	} else if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultAttemptTimeout
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	return o
}

// RetryAttempt is emitted to observers for every attempt of a request.
type RetryAttempt struct {
	// RequestID correlates all attempts of one ExecuteWithRetry call.
	RequestID string

	// Attempt is 1-based.
	Attempt int

	// Err is nil when the attempt succeeded.
	Err error

	// WillRetry reports whether another attempt follows.
	WillRetry bool

	// Backoff is the delay before the next attempt when WillRetry is set.
	Backoff time.Duration
}

// RetryObserver receives attempt records. Observers run synchronously on
// the calling goroutine; panics are swallowed so a broken observer cannot
// corrupt the retry loop.
type RetryObserver func(RetryAttempt)

// EngineStats are process-wide counters, read-only to callers.
type EngineStats struct {
	TotalRequests       int64
	RateLimitedRequests int64
	RetriedRequests     int64
	FailedRequests      int64

	// AverageRetries is the running mean retry count per request,
	// updated incrementally rather than from stored history.
	AverageRetries float64
}

// RetryEngine executes operations with timeout, backoff and global
// rate-limit cooldown. Construct one per process and share it; the
// rate-limit state it holds is what makes unrelated requests respect a
// previously observed throttle.
type RetryEngine struct {
	rateLimit *RateLimitState
	logger    logger.Logger

	mu           sync.Mutex
	observers    map[int]RetryObserver
	nextObserver int
	stats        EngineStats

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	rng   func(n int64) int64
}

// NewRetryEngine creates an engine around the given shared rate-limit
// state. A nil state gets a fresh one.
func NewRetryEngine(rateLimit *RateLimitState, log logger.Logger) *RetryEngine {
	if rateLimit == nil {
		rateLimit = NewRateLimitState()
	}
	if log == nil {
		log = logger.New(logger.TestConfig())
	}
	return &RetryEngine{
		rateLimit: rateLimit,
		logger:    log.WithSubsystem("graph.retry"),
		observers: make(map[int]RetryObserver),
		sleep:     sleepCtx,
		rng:       rand.Int63n,
	}
}

// RateLimit exposes the engine's shared rate-limit state.
func (e *RetryEngine) RateLimit() *RateLimitState {
	return e.rateLimit
}

// OnRetry registers an observer and returns its unregister function.
func (e *RetryEngine) OnRetry(cb RetryObserver) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = cb
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

// Stats returns a copy of the engine counters.
func (e *RetryEngine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *RetryEngine) emit(record RetryAttempt) {
	e.mu.Lock()
	observers := make([]RetryObserver, 0, len(e.observers))
	for _, cb := range e.observers {
		observers = append(observers, cb)
	}
	e.mu.Unlock()

	for _, cb := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("retry observer panicked", logger.Any("panic", r))
				}
			}()
			cb(record)
		}()
	}
}

// recordOutcome folds one finished request into the counters.
func (e *RetryEngine) recordOutcome(retries int, rateLimited, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalRequests++
	if retries > 0 {
		e.stats.RetriedRequests++
	}
	if rateLimited {
		e.stats.RateLimitedRequests++
	}
	if failed {
		e.stats.FailedRequests++
	}
	e.stats.AverageRetries += (float64(retries) - e.stats.AverageRetries) / float64(e.stats.TotalRequests)
}

// shouldRetry applies the caller override or the default policy:
// authentication and permission failures are never retried, everything
// else is.
func shouldRetry(opts RetryOptions, err error, attempt int) bool {
	if opts.ShouldRetry != nil {
		return opts.ShouldRetry(err, attempt)
	}
	if IsAuthenticationError(err) || IsPermissionError(err) {
		return false
	}
	return true
}

// backoffDelay computes the delay before retry attempt+1:
// min(1s * multiplier^attempt + jitter(0..1s), MaxBackoff).
func (e *RetryEngine) backoffDelay(opts RetryOptions, attempt int) time.Duration {
	exp := float64(baseBackoff) * math.Pow(opts.BackoffMultiplier, float64(attempt))
	if exp > float64(opts.MaxBackoff) {
		return opts.MaxBackoff
	}
	delay := time.Duration(exp) + time.Duration(e.rng(int64(jitterCeiling)))
	if delay > opts.MaxBackoff {
		return opts.MaxBackoff
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Operation is one asynchronous unit of work executed under retry.
type Operation[T any] func(ctx context.Context) (T, error)

// ExecuteWithRetry runs op with the engine's full policy: rate-limit
// cooldown, per-attempt timeout, classification, exponential backoff with
// jitter. On exhaustion it returns the raw last error rather than a
// Result: the engine is a generic executor and wrapping is the caller's
// job.
func ExecuteWithRetry[T any](ctx context.Context, e *RetryEngine, op Operation[T], opts RetryOptions) (T, error) {
	var zero T
	opts = opts.withDefaults()

	requestID := helper.GenerateRequestID()
	rateLimited := false
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := e.rateLimit.Wait(ctx); err != nil {
			e.recordOutcome(attempt, rateLimited, true)
			return zero, err
		}

		result, err := runAttempt(ctx, op, opts.Timeout)
		if err == nil {
			e.emit(RetryAttempt{
				RequestID: requestID,
				Attempt:   attempt + 1,
			})
			e.recordOutcome(attempt, rateLimited, false)
			return result, nil
		}
		lastErr = err

		if IsRateLimitError(err) {
			rateLimited = true
			e.rateLimit.Observe(err)
		}

		retrying := shouldRetry(opts, err, attempt) && attempt < opts.MaxRetries
		if !retrying {
			e.emit(RetryAttempt{
				RequestID: requestID,
				Attempt:   attempt + 1,
				Err:       err,
			})
			e.recordOutcome(attempt, rateLimited, true)
			return zero, lastErr
		}

		delay := e.backoffDelay(opts, attempt)
		e.emit(RetryAttempt{
			RequestID: requestID,
			Attempt:   attempt + 1,
			Err:       err,
			WillRetry: true,
			Backoff:   delay,
		})
		e.logger.Debug("retrying after failure",
			logger.String("request_id", requestID),
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", delay),
			logger.Err(err),
		)
		if err := e.sleep(ctx, delay); err != nil {
			e.recordOutcome(attempt, rateLimited, true)
			return zero, err
		}
	}
}

// Do is ExecuteWithRetry for operations with no return value.
func (e *RetryEngine) Do(ctx context.Context, op func(ctx context.Context) error, opts RetryOptions) error {
	_, err := ExecuteWithRetry(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// runAttempt races one invocation of op against the attempt timeout. When
// the timer fires first the in-flight call is abandoned: its context is
// cancelled and its eventual result discarded.
func runAttempt[T any](ctx context.Context, op Operation[T], timeout time.Duration) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := op(attemptCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrRequestTimeout
	}
}
