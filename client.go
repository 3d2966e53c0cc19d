package treeverse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go-treeverse/queue"
	"github.com/google/uuid"
)

// Client turns (tweet id, cursor) pairs into parsed batches. Every fetch goes
// through the shared request lane, so at most one is in flight at a time.
type Client struct {
	cfg       ClientConfig
	queue     *queue.Queue
	ownsQueue bool
}

// NewClient creates a client around cfg.Fetcher.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("treeverse: fetcher required")
	}
	cfg.defaults()

	c := &Client{cfg: cfg, queue: cfg.Queue}
	if c.queue == nil {
		c.queue = queue.New(queue.Config{Clock: cfg.Clock, ResumeFloor: cfg.ResumeFloor})
		c.ownsQueue = true
	}
	return c, nil
}

// Queue returns the request lane, e.g. to subscribe to pause notifications.
func (c *Client) Queue() *queue.Queue {
	return c.queue
}

// Close releases the request lane if the client created it.
func (c *Client) Close() {
	if c.ownsQueue {
		c.queue.Close()
	}
}

// RequestBatch fetches one page of the conversation around tweetID, starting at
// cursor when it is non-empty. A rate-limited fetch is replayed by the lane and
// only shows up here as latency; any other failure is returned as is.
func (c *Client) RequestBatch(ctx context.Context, tweetID, cursor string) (*Batch, error) {
	if tweetID == "" {
		return nil, ErrEmptyTweetID
	}
	return queue.Do(ctx, c.queue, func(ctx context.Context) (*Batch, error) {
		return c.fetchBatch(ctx, tweetID, cursor)
	})
}

func (c *Client) fetchBatch(ctx context.Context, tweetID, cursor string) (*Batch, error) {
	info := resolveQueryInfo(c.cfg.QueryInfo)
	req := FetchRequest{
		ID:  uuid.NewString(),
		URL: BuildTweetDetailURL(c.cfg.Origin, tweetID, cursor, info),
	}

	resp, err := c.cfg.Fetcher.Fetch(ctx, req)
	if err != nil {
		var rl *RateLimitError
		c.recordAPICall(false, errors.As(err, &rl))
		return nil, fmt.Errorf("%s %s: %w", tweetDetailEndpoint, tweetID, err)
	}
	if resp.RequestID != "" && resp.RequestID != req.ID {
		c.recordAPICall(false, false)
		return nil, fmt.Errorf("%s %s: response for request %s, want %s", tweetDetailEndpoint, tweetID, resp.RequestID, req.ID)
	}

	if err := c.checkResponse(resp); err != nil {
		var rl *RateLimitError
		c.recordAPICall(false, errors.As(err, &rl))
		return nil, fmt.Errorf("%s %s: %w", tweetDetailEndpoint, tweetID, err)
	}

	batch, err := ParseResponse(tweetID, resp.Body)
	if err != nil {
		c.recordAPICall(false, false)
		return nil, fmt.Errorf("%s %s: %w", tweetDetailEndpoint, tweetID, err)
	}
	c.recordAPICall(true, false)
	return batch, nil
}

// checkResponse maps the HTTP status and GraphQL error codes onto the error taxonomy.
func (c *Client) checkResponse(resp *Response) error {
	now := c.cfg.Clock.Now()
	switch {
	case resp.StatusCode == 429:
		return &RateLimitError{Reset: parseRateLimitReset(resp.RateLimit.Reset, now)}
	case resp.StatusCode != 200:
		slog.Warn("TweetDetail non-200",
			slog.Int("status", resp.StatusCode),
			slog.String("body", truncateBytes(resp.Body, 500)))
		return &StatusError{StatusCode: resp.StatusCode, Body: truncateBytes(resp.Body, 200)}
	}

	switch class := classifyError(resp.Body); class {
	case errNone:
		return nil
	case errRateLimited:
		return &RateLimitError{Reset: parseRateLimitReset(resp.RateLimit.Reset, now)}
	default:
		if hasResponseData(resp.Body) {
			slog.Debug("error with usable data, treating as success", slog.String("class", class.String()))
			return nil
		}
		return &APIError{Reason: class.String(), Body: truncateBytes(resp.Body, 200)}
	}
}

// recordAPICall calls the metrics hook if configured.
func (c *Client) recordAPICall(success, rateLimited bool) {
	if c.cfg.MetricsHook != nil {
		c.cfg.MetricsHook(tweetDetailEndpoint, success, rateLimited)
	}
}
