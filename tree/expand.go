package tree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anatolykoptev/go-treeverse"
)

// Requester fetches one page of replies below a tweet.
// *treeverse.Client implements it.
type Requester interface {
	RequestBatch(ctx context.Context, tweetID, cursor string) (*treeverse.Batch, error)
}

// Expander drives node expansion against a shared tree. Fetches run outside the
// lock, merges under it, so several expansions may be requested concurrently
// while the request lane keeps the network side serial.
type Expander struct {
	req Requester

	// ExhaustAfterEmpty marks a node exhausted after this many consecutive
	// expansion calls that came back empty even after the retry.
	// Zero never infers exhaustion; only a batch without a cursor ends a node.
	ExhaustAfterEmpty int

	mu      sync.Mutex
	tree    *Tree
	empties map[string]int
}

// NewExpander wraps t.
func NewExpander(t *Tree, req Requester) *Expander {
	return &Expander{req: req, tree: t, empties: make(map[string]int)}
}

// Open fetches the first page around focalID and returns an expander over the new tree.
func Open(ctx context.Context, req Requester, focalID string) (*Expander, error) {
	batch, err := req.RequestBatch(ctx, focalID, "")
	if err != nil {
		return nil, err
	}
	t, err := Build(batch)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", focalID, err)
	}
	return NewExpander(t, req), nil
}

// View runs fn with exclusive access to the tree.
func (e *Expander) View(fn func(t *Tree)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.tree)
}

// Expand fetches the next page below id and merges it. An empty page while the
// node still has a cursor is retried once. It returns the number of nodes added.
// A failed fetch leaves the tree untouched.
func (e *Expander) Expand(ctx context.Context, id string) (int, error) {
	added, err := e.expandOnce(ctx, id)
	if err != nil || added > 0 {
		return added, err
	}

	e.mu.Lock()
	retry := e.tree.CanExpand(id)
	e.mu.Unlock()
	if retry {
		slog.Debug("empty expansion, retrying", slog.String("node", id))
		if added, err = e.expandOnce(ctx, id); err != nil || added > 0 {
			return added, err
		}
	}

	e.noteEmpty(id)
	return 0, nil
}

func (e *Expander) expandOnce(ctx context.Context, id string) (int, error) {
	e.mu.Lock()
	n := e.tree.Node(id)
	if n == nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("expand %s: %w", id, ErrUnknownNode)
	}
	if n.Exhausted() {
		e.mu.Unlock()
		return 0, nil
	}
	cursor := n.Cursor()
	e.mu.Unlock()

	batch, err := e.req.RequestBatch(ctx, id, cursor)
	if err != nil {
		return 0, fmt.Errorf("expand %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	added, err := e.tree.Merge(batch, id)
	if added > 0 {
		delete(e.empties, id)
	}
	return added, err
}

func (e *Expander) noteEmpty(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tree.CanExpand(id) {
		delete(e.empties, id)
		return
	}
	e.empties[id]++
	if e.ExhaustAfterEmpty > 0 && e.empties[id] >= e.ExhaustAfterEmpty {
		e.tree.markExhausted(id)
		delete(e.empties, id)
		slog.Debug("node exhausted after empty expansions", slog.String("node", id))
	}
}
