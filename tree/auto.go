package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// AutoConfig controls the expand-all driver. Zero values are replaced by defaults.
type AutoConfig struct {
	// Interval between expansion steps. Default: 2s
	Interval time.Duration

	// MaxNodes stops the driver once the tree holds this many nodes. Zero means no limit.
	MaxNodes int

	// Clock drives the scheduler. Default: the real clock.
	Clock clockwork.Clock

	// OnStep is called after every step with the expanded node id and the number of nodes added.
	OnStep func(id string, added int)
}

func (cfg *AutoConfig) defaults() {
	if cfg.Interval == 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
}

// AutoExpander expands one node per tick, in traversal order, until nothing is
// left to expand or the node budget is reached. A node that came back empty is
// not revisited during the same run.
type AutoExpander struct {
	exp *Expander
	cfg AutoConfig

	mu      sync.Mutex
	settled map[string]bool
}

// NewAutoExpander creates a driver over exp.
func NewAutoExpander(exp *Expander, cfg AutoConfig) *AutoExpander {
	cfg.defaults()
	return &AutoExpander{exp: exp, cfg: cfg, settled: make(map[string]bool)}
}

// Step expands the next candidate node. It reports done when there is nothing
// left to do. Fetch failures settle the node and are returned.
func (a *AutoExpander) Step(ctx context.Context) (done bool, err error) {
	id, ok := a.next()
	if !ok {
		return true, nil
	}

	added, err := a.exp.Expand(ctx, id)
	if err != nil || added == 0 {
		a.mu.Lock()
		a.settled[id] = true
		a.mu.Unlock()
	}
	if a.cfg.OnStep != nil {
		a.cfg.OnStep(id, added)
	}
	return false, err
}

func (a *AutoExpander) next() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var id string
	a.exp.View(func(t *Tree) {
		if a.cfg.MaxNodes > 0 && t.Len() >= a.cfg.MaxNodes {
			return
		}
		for _, n := range t.Traverse() {
			if n.HasMore() && !a.settled[n.ID()] {
				id = n.ID()
				return
			}
		}
	})
	return id, id != ""
}

// Run schedules Step every Interval and blocks until the tree is fully expanded
// or ctx is done. Step errors are logged and do not stop the run.
func (a *AutoExpander) Run(ctx context.Context) error {
	s, err := gocron.NewScheduler(gocron.WithClock(a.cfg.Clock))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	finished := make(chan struct{})
	var once sync.Once

	_, err = s.NewJob(
		gocron.DurationJob(a.cfg.Interval),
		gocron.NewTask(func() {
			done, err := a.Step(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("auto-expand step failed", slog.Any("error", err))
			}
			if done {
				once.Do(func() { close(finished) })
			}
		}),
		gocron.WithName("expand-all"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule expand-all: %w", err)
	}

	s.Start()
	select {
	case <-finished:
	case <-ctx.Done():
	}
	cancel()
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return ctx.Err()
}
