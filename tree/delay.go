package tree

import "time"

// ReplyDelay is the time between a parent tweet and its reply. It is zero for the
// root and for tweets without a timestamp.
func (t *Tree) ReplyDelay(n *Node) time.Duration {
	parent, ok := t.index[n.ParentID]
	if !ok || n.Tweet.CreatedAt.IsZero() || parent.Tweet.CreatedAt.IsZero() {
		return 0
	}
	return n.Tweet.CreatedAt.Sub(parent.Tweet.CreatedAt)
}

// DelayBucket maps a reply delay onto the legend used to color edges.
func DelayBucket(d time.Duration) string {
	switch {
	case d < 5*time.Minute:
		return "<5m"
	case d < 10*time.Minute:
		return "<10m"
	case d < time.Hour:
		return "<1h"
	case d < 3*time.Hour:
		return "<3h"
	}
	return "3h+"
}
