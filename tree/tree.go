// Package tree reconstructs a reply conversation from paginated, overlapping
// batches. Nodes live in an id-indexed arena; each node owns its children and
// refers to its parent by id only.
package tree

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go-treeverse"
)

var (
	// ErrEmptyBatch is returned by Build for a batch with no tweets.
	ErrEmptyBatch = errors.New("tree: empty batch")
	// ErrUnknownNode is returned when an id is not in the tree.
	ErrUnknownNode = errors.New("tree: unknown node")
)

// Node is one tweet in the conversation.
type Node struct {
	Tweet    *treeverse.Tweet
	ParentID string // empty for the root
	Children []*Node

	cursor    string
	exhausted bool
}

// ID returns the tweet id.
func (n *Node) ID() string { return n.Tweet.ID }

// Cursor returns the pagination cursor for the next expansion, empty if none is known.
func (n *Node) Cursor() string { return n.cursor }

// Exhausted reports whether the last expansion ended without a cursor.
func (n *Node) Exhausted() bool { return n.exhausted }

// HasMore reports whether the node is still worth expanding.
func (n *Node) HasMore() bool { return !n.exhausted }

// Tree is a conversation rooted at one tweet. It is not safe for concurrent use;
// Expander serializes access for callers that share a tree.
type Tree struct {
	Root  *Node
	index map[string]*Node
}

// Build seeds a fresh tree from the first batch of a conversation.
// The focal tweet becomes the root when present, otherwise the first tweet whose
// parent is not part of the batch. Remaining tweets are inserted in batch order;
// a tweet whose parent has not been inserted yet is dropped.
func Build(batch *treeverse.Batch) (*Tree, error) {
	if batch == nil || len(batch.Tweets) == 0 {
		return nil, ErrEmptyBatch
	}

	root := pickRoot(batch)
	t := &Tree{
		Root:  &Node{Tweet: root},
		index: make(map[string]*Node, len(batch.Tweets)),
	}
	t.index[root.ID] = t.Root

	added := t.insertAll(batch.Tweets)
	slog.Debug("tree built",
		slog.String("root", root.ID),
		slog.Int("nodes", added+1),
		slog.Int("batch", len(batch.Tweets)))
	return t, nil
}

func pickRoot(batch *treeverse.Batch) *treeverse.Tweet {
	inBatch := make(map[string]bool, len(batch.Tweets))
	for _, tw := range batch.Tweets {
		if tw.ID == batch.RootID {
			return tw
		}
		inBatch[tw.ID] = true
	}
	for _, tw := range batch.Tweets {
		if tw.ParentID == "" || !inBatch[tw.ParentID] {
			return tw
		}
	}
	// Every tweet claims a parent inside the batch, which means a cycle.
	return batch.Tweets[0]
}

// Merge adds the new tweets of batch under their parents and records the
// pagination state of the node being expanded. It returns how many nodes were added.
// Replaying a batch adds nothing. A batch without a cursor marks the expanded node exhausted.
func (t *Tree) Merge(batch *treeverse.Batch, expandingID string) (int, error) {
	node, ok := t.index[expandingID]
	if !ok {
		return 0, fmt.Errorf("merge into %s: %w", expandingID, ErrUnknownNode)
	}
	if batch == nil {
		batch = &treeverse.Batch{}
	}

	added := t.insertAll(batch.Tweets)
	node.cursor = batch.Cursor
	node.exhausted = batch.Cursor == ""

	slog.Debug("batch merged",
		slog.String("node", expandingID),
		slog.Int("added", added),
		slog.Bool("exhausted", node.exhausted))
	return added, nil
}

func (t *Tree) insertAll(tweets []*treeverse.Tweet) int {
	added := 0
	for _, tw := range tweets {
		if tw == nil || tw.ID == "" {
			continue
		}
		if _, dup := t.index[tw.ID]; dup {
			continue
		}
		parent, ok := t.index[tw.ParentID]
		if tw.ParentID == "" || !ok {
			slog.Debug("drop orphan", slog.String("id", tw.ID), slog.String("parent", tw.ParentID))
			continue
		}
		n := &Node{Tweet: tw, ParentID: parent.ID()}
		parent.Children = append(parent.Children, n)
		t.index[tw.ID] = n
		added++
	}
	return added
}

// CanExpand reports whether the node with id may be expanded again.
// Unknown ids are never expandable.
func (t *Tree) CanExpand(id string) bool {
	n, ok := t.index[id]
	return ok && !n.exhausted
}

// markExhausted stops further expansion of id without a null cursor from upstream.
func (t *Tree) markExhausted(id string) {
	if n, ok := t.index[id]; ok {
		n.exhausted = true
	}
}

// Node returns the node with id, or nil.
func (t *Tree) Node(id string) *Node {
	return t.index[id]
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	return len(t.index)
}

// Traverse returns all nodes depth-first, parents before children, children in
// insertion order.
func (t *Tree) Traverse() []*Node {
	out := make([]*Node, 0, len(t.index))
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return out
}

// Ancestors returns the path from the root down to id, both ends included.
func (t *Tree) Ancestors(id string) []*Node {
	n, ok := t.index[id]
	if !ok {
		return nil
	}
	var path []*Node
	for n != nil {
		path = append(path, n)
		if n.ParentID == "" {
			break
		}
		n = t.index[n.ParentID]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Restore sets the pagination state of id, e.g. when reloading a saved conversation.
func (t *Tree) Restore(id, cursor string, exhausted bool) error {
	n, ok := t.index[id]
	if !ok {
		return fmt.Errorf("restore %s: %w", id, ErrUnknownNode)
	}
	n.cursor = cursor
	n.exhausted = exhausted
	return nil
}
