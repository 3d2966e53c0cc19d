// Package queue implements the single request lane shared by every fetch of a
// conversation view. Operations run strictly one at a time in FIFO order; an
// operation that reports a rate limit is put back at the head and the whole
// lane pauses until the upstream window resets.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrClosed is returned for operations that were still pending when the queue was closed.
var ErrClosed = errors.New("request queue closed")

// RateLimited is implemented by errors that signal an upstream rate limit.
// RateLimitReset reports when the upstream window is expected to reset.
type RateLimited interface {
	error
	RateLimitReset() time.Time
}

// Operation is one deferred unit of work executed on the lane.
// The context is cancelled when the queue is closed.
type Operation func(ctx context.Context) (any, error)

// Config controls pause timing. Zero values are replaced by defaults.
type Config struct {
	// Clock drives the resume timer and the countdown ticker.
	Clock clockwork.Clock

	// ResumeFloor is the minimum pause, applied when the reset time is near or already past.
	// Default: 5s.
	ResumeFloor time.Duration

	// TickInterval is the countdown notification period. Default: 1s.
	TickInterval time.Duration
}

func (cfg *Config) defaults() {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ResumeFloor == 0 {
		cfg.ResumeFloor = 5 * time.Second
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
}

type item struct {
	op  Operation
	fut *Future
}

// Queue serializes operations and applies rate-limit backpressure.
type Queue struct {
	cfg    Config
	clock  clockwork.Clock
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	pending     []*item
	running     bool
	paused      bool
	closed      bool
	reset       time.Time
	resumeTimer clockwork.Timer
	stopTick    context.CancelFunc

	// notifyMu orders status notifications; zeroSent records whether the
	// current pause already reported a countdown of 0.
	notifyMu  sync.Mutex
	zeroSent  bool
	observers observers
}

// New creates an idle queue.
func New(cfg Config) *Queue {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		clock:  cfg.Clock,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue appends op to the lane and returns a future for its outcome.
// If nothing is running and the lane is not paused, op starts immediately.
func (q *Queue) Enqueue(op Operation) *Future {
	fut := newFuture()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		fut.resolve(nil, ErrClosed)
		return fut
	}
	q.pending = append(q.pending, &item{op: op, fut: fut})
	start := q.claimLocked()
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return fut
}

// HandleRateLimit pauses the lane until reset. A signal received while
// already paused is ignored; the current window is neither restarted nor shortened.
func (q *Queue) HandleRateLimit(reset time.Time) {
	q.mu.Lock()
	wait, ok := q.pauseLocked(reset)
	q.mu.Unlock()
	if ok {
		q.announcePause(reset, wait)
	}
}

// Paused reports whether the lane is paused and, if so, the reset time it waits for.
func (q *Queue) Paused() (bool, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused, q.reset
}

// Len returns the number of operations waiting to run, excluding one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Subscribe registers o for status notifications until the returned func is called
// or the queue is closed.
func (q *Queue) Subscribe(o Observer) (unsubscribe func()) {
	return q.observers.add(o)
}

// Close stops the timers, rejects pending operations with ErrClosed and drops all observers.
// An operation already in flight sees its context cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.stopPauseLocked()
	q.mu.Unlock()

	q.cancel()
	for _, it := range pending {
		it.fut.resolve(nil, ErrClosed)
	}
	q.observers.clear()
}

// claimLocked marks the lane as draining if there is work and nothing blocks it.
func (q *Queue) claimLocked() bool {
	if q.running || q.paused || q.closed || len(q.pending) == 0 {
		return false
	}
	q.running = true
	return true
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.paused || q.closed || len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		val, err := it.op(q.ctx)

		var rl RateLimited
		if err != nil && errors.As(err, &rl) {
			q.mu.Lock()
			if q.closed {
				q.running = false
				q.mu.Unlock()
				it.fut.resolve(nil, ErrClosed)
				return
			}
			// Not yet succeeded: it must run again before anything queued after it.
			q.pending = append([]*item{it}, q.pending...)
			q.running = false
			reset := rl.RateLimitReset()
			wait, ok := q.pauseLocked(reset)
			q.mu.Unlock()
			if ok {
				q.announcePause(reset, wait)
			}
			return
		}

		it.fut.resolve(val, err)
	}
}

// pauseLocked enters the paused state and schedules resume. It returns false
// when the lane was already paused or closed.
func (q *Queue) pauseLocked(reset time.Time) (time.Duration, bool) {
	if q.paused || q.closed {
		return 0, false
	}
	q.paused = true
	q.reset = reset

	wait := reset.Sub(q.clock.Now())
	if wait < q.cfg.ResumeFloor {
		wait = q.cfg.ResumeFloor
	}
	q.resumeTimer = q.clock.AfterFunc(wait, q.resume)

	tickCtx, stop := context.WithCancel(q.ctx)
	q.stopTick = stop
	go q.countdown(tickCtx, q.clock.NewTicker(q.cfg.TickInterval), reset)

	return wait, true
}

// stopPauseLocked cancels the resume timer and the countdown ticker.
func (q *Queue) stopPauseLocked() {
	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
		q.resumeTimer = nil
	}
	if q.stopTick != nil {
		q.stopTick()
		q.stopTick = nil
	}
	q.paused = false
	q.reset = time.Time{}
}

func (q *Queue) announcePause(reset time.Time, wait time.Duration) {
	slog.Warn("rate limited, pausing request queue",
		slog.Time("reset", reset),
		slog.Duration("wait", wait),
		slog.Int("pending", q.Len()))
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	q.observers.each(func(o Observer) { o.OnPaused(reset) })
}

func (q *Queue) resume() {
	q.mu.Lock()
	if !q.paused || q.closed {
		q.mu.Unlock()
		return
	}
	q.stopPauseLocked()
	pending := len(q.pending)
	start := q.claimLocked()
	q.mu.Unlock()

	slog.Info("rate limit window reset, resuming requests", slog.Int("pending", pending))
	// The ticker is already cancelled, so no tick can follow. Resume usually
	// lands between two ticks; the countdown still ends at 0.
	q.notifyMu.Lock()
	if !q.zeroSent {
		q.observers.each(func(o Observer) { o.OnCountdown(0) })
	}
	q.zeroSent = false
	q.observers.each(func(o Observer) { o.OnResumed() })
	q.notifyMu.Unlock()

	if start {
		go q.drain()
	}
}

// countdown emits the whole seconds left until reset once per tick and stops at zero.
func (q *Queue) countdown(ctx context.Context, ticker clockwork.Ticker, reset time.Time) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !q.tick(ctx, reset) {
				return
			}
		}
	}
}

// tick emits one countdown value and reports whether ticking should go on.
func (q *Queue) tick(ctx context.Context, reset time.Time) bool {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	remaining := secondsUntil(reset, q.clock.Now())
	q.observers.each(func(o Observer) { o.OnCountdown(remaining) })
	if remaining <= 0 {
		q.zeroSent = true
		return false
	}
	return true
}

func secondsUntil(reset, now time.Time) int {
	s := int(math.Ceil(reset.Sub(now).Seconds()))
	return max(s, 0)
}
