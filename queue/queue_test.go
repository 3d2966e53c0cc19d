package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

type limitErr struct{ reset time.Time }

func (e *limitErr) Error() string             { return "429 rate limited" }
func (e *limitErr) RateLimitReset() time.Time { return e.reset }

// recorder collects notifications without ever blocking the queue.
type recorder struct {
	paused    chan time.Time
	countdown chan int
	resumed   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		paused:    make(chan time.Time, 16),
		countdown: make(chan int, 64),
		resumed:   make(chan struct{}, 16),
	}
}

func (r *recorder) OnPaused(reset time.Time) { r.paused <- reset }
func (r *recorder) OnCountdown(n int)        { r.countdown <- n }
func (r *recorder) OnResumed()               { r.resumed <- struct{}{} }

func newTestQueue(t *testing.T) (*Queue, clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	q := New(Config{Clock: clock})
	t.Cleanup(q.Close)
	rec := newRecorder()
	q.Subscribe(rec)
	return q, clock, rec
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	var zero T
	return zero
}

func TestQueue_SerialFIFO(t *testing.T) {
	q, _, _ := newTestQueue(t)

	var (
		mu       sync.Mutex
		order    []int
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	gate := make(chan struct{})

	futures := make([]*Future, 0, 5)
	for i := range 5 {
		futures = append(futures, q.Enqueue(func(ctx context.Context) (any, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			if i == 0 {
				<-gate
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i * 10, nil
		}))
	}
	close(gate)

	ctx := waitCtx(t)
	for i, f := range futures {
		v, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i*10, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestQueue_RateLimitedOperationReplaysBeforeLaterWork(t *testing.T) {
	q, clock, rec := newTestQueue(t)

	var (
		mu    sync.Mutex
		order []string
		calls atomic.Int32
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	fa := q.Enqueue(func(ctx context.Context) (any, error) {
		record("A")
		if calls.Add(1) == 1 {
			return nil, &limitErr{reset: clock.Now().Add(30 * time.Second)}
		}
		return "a", nil
	})
	fb := q.Enqueue(func(ctx context.Context) (any, error) {
		record("B")
		return "b", nil
	})

	reset := recv(t, rec.paused)
	assert.Equal(t, epoch.Add(30*time.Second), reset)
	paused, until := q.Paused()
	assert.True(t, paused)
	assert.Equal(t, reset, until)
	assert.Equal(t, 2, q.Len())

	clock.BlockUntil(2)
	clock.Advance(30 * time.Second)
	recv(t, rec.resumed)

	ctx := waitCtx(t)
	va, err := fa.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", va)
	vb, err := fb.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", vb)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "A", "B"}, order)
}

func TestQueue_CountdownReachesZeroOnce(t *testing.T) {
	q, clock, rec := newTestQueue(t)

	q.HandleRateLimit(clock.Now().Add(3 * time.Second))
	recv(t, rec.paused)
	clock.BlockUntil(2)

	var got []int
	for range 3 {
		clock.Advance(time.Second)
		got = append(got, recv(t, rec.countdown))
	}
	assert.Equal(t, []int{2, 1, 0}, got)

	// Ticker is gone; only the resume timer (5s floor) remains.
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	select {
	case n := <-rec.countdown:
		t.Fatalf("unexpected countdown %d after reaching zero", n)
	default:
	}
	clock.Advance(time.Second)
	recv(t, rec.resumed)

	paused, _ := q.Paused()
	assert.False(t, paused)
}

func TestQueue_ResumeFloorForPastReset(t *testing.T) {
	q, clock, rec := newTestQueue(t)

	q.HandleRateLimit(clock.Now().Add(-time.Minute))
	recv(t, rec.paused)
	clock.BlockUntil(2)

	clock.Advance(4 * time.Second)
	paused, _ := q.Paused()
	assert.True(t, paused)

	clock.Advance(time.Second)
	recv(t, rec.resumed)
	paused, _ = q.Paused()
	assert.False(t, paused)
}

func TestQueue_DuplicateSignalIgnored(t *testing.T) {
	q, clock, rec := newTestQueue(t)

	first := clock.Now().Add(20 * time.Second)
	q.HandleRateLimit(first)
	q.HandleRateLimit(clock.Now().Add(10 * time.Minute))
	q.HandleRateLimit(clock.Now().Add(time.Second))

	assert.Equal(t, first, recv(t, rec.paused))
	select {
	case r := <-rec.paused:
		t.Fatalf("second pause notification for %v", r)
	default:
	}
	_, until := q.Paused()
	assert.Equal(t, first, until)

	clock.BlockUntil(2)
	clock.Advance(20 * time.Second)
	recv(t, rec.resumed)
}

func TestQueue_EnqueueWhilePausedWaits(t *testing.T) {
	q, clock, rec := newTestQueue(t)

	q.HandleRateLimit(clock.Now().Add(10 * time.Second))
	recv(t, rec.paused)

	var ran atomic.Bool
	f := q.Enqueue(func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	select {
	case <-f.Done():
		t.Fatal("operation ran while paused")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, ran.Load())

	clock.BlockUntil(2)
	clock.Advance(10 * time.Second)
	_, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestQueue_FailuresAreNotRetried(t *testing.T) {
	q, _, _ := newTestQueue(t)

	boom := errors.New("transport down")
	var calls atomic.Int32
	f1 := q.Enqueue(func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, fmt.Errorf("fetch: %w", boom)
	})
	f2 := q.Enqueue(func(ctx context.Context) (any, error) {
		return "next", nil
	})

	ctx := waitCtx(t)
	_, err := f1.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	v, err := f2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "next", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_CloseRejectsPending(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	q := New(Config{Clock: clock})

	q.HandleRateLimit(clock.Now().Add(time.Minute))
	f := q.Enqueue(func(ctx context.Context) (any, error) { return "never", nil })
	q.Close()

	_, err := f.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = q.Enqueue(func(ctx context.Context) (any, error) { return nil, nil }).Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDo_Typed(t *testing.T) {
	q, _, _ := newTestQueue(t)

	n, err := Do(waitCtx(t), q, func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Do(waitCtx(t), q, func(ctx context.Context) (string, error) { return "", errors.New("nope") })
	assert.EqualError(t, err, "nope")
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	q, clock, rec := newTestQueue(t)

	var count atomic.Int32
	unsubscribe := q.Subscribe(ObserverFuncs{Paused: func(time.Time) { count.Add(1) }})
	unsubscribe()
	unsubscribe()

	q.HandleRateLimit(clock.Now().Add(time.Minute))
	recv(t, rec.paused)
	assert.Equal(t, int32(0), count.Load())
}

func TestSecondsUntil(t *testing.T) {
	tests := []struct {
		name  string
		delta time.Duration
		want  int
	}{
		{"whole", 3 * time.Second, 3},
		{"rounds up", 2500 * time.Millisecond, 3},
		{"zero", 0, 0},
		{"past clamps", -4 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, secondsUntil(epoch.Add(tt.delta), epoch))
		})
	}
}

func TestQueue_CountdownEndsAtZeroBetweenTicks(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch.Add(500 * time.Millisecond))
	q := New(Config{Clock: clock})
	t.Cleanup(q.Close)

	events := make(chan string, 64)
	q.Subscribe(ObserverFuncs{
		Paused:    func(time.Time) { events <- "paused" },
		Countdown: func(n int) { events <- fmt.Sprint(n) },
		Resumed:   func() { events <- "resumed" },
	})

	q.HandleRateLimit(epoch.Add(10 * time.Second))
	assert.Equal(t, "paused", recv(t, events))
	clock.BlockUntil(2)

	var got []string
	for range 9 {
		clock.Advance(time.Second)
		got = append(got, recv(t, events))
	}
	assert.Equal(t, []string{"9", "8", "7", "6", "5", "4", "3", "2", "1"}, got)

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, "0", recv(t, events))
	assert.Equal(t, "resumed", recv(t, events))
	select {
	case e := <-events:
		t.Fatalf("unexpected notification %q after resume", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueue_CountdownZeroNotRepeatedOnResume(t *testing.T) {
	q, clock, rec := newTestQueue(t)

	q.HandleRateLimit(clock.Now().Add(time.Second))
	recv(t, rec.paused)
	clock.BlockUntil(2)

	clock.Advance(time.Second)
	assert.Equal(t, 0, recv(t, rec.countdown))
	clock.BlockUntil(1)
	clock.Advance(4 * time.Second)
	recv(t, rec.resumed)

	select {
	case n := <-rec.countdown:
		t.Fatalf("countdown %d repeated on resume", n)
	default:
	}
}
