package queue

import (
	"slices"
	"sync"
	"time"
)

// Observer receives lane status notifications. They are a side channel for a
// status display and have no effect on queue semantics. Implementations must not block.
type Observer interface {
	OnPaused(reset time.Time)
	OnCountdown(remaining int)
	OnResumed()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Paused    func(reset time.Time)
	Countdown func(remaining int)
	Resumed   func()
}

func (f ObserverFuncs) OnPaused(reset time.Time) {
	if f.Paused != nil {
		f.Paused(reset)
	}
}

func (f ObserverFuncs) OnCountdown(remaining int) {
	if f.Countdown != nil {
		f.Countdown(remaining)
	}
}

func (f ObserverFuncs) OnResumed() {
	if f.Resumed != nil {
		f.Resumed()
	}
}

// observers is the queue-owned registry; it lives and dies with its queue.
type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
}

func (r *observers) add(o Observer) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs == nil {
		r.subs = make(map[int]Observer)
	}
	id := r.next
	r.next++
	r.subs[id] = o

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// each calls fn for every subscriber in registration order.
func (r *observers) each(fn func(Observer)) {
	r.mu.RLock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	subs := make([]Observer, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, r.subs[id])
	}
	r.mu.RUnlock()

	for _, o := range subs {
		fn(o)
	}
}

func (r *observers) clear() {
	r.mu.Lock()
	r.subs = nil
	r.mu.Unlock()
}
