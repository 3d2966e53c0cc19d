package treeverse

import (
	"time"

	"github.com/anatolykoptev/go-treeverse/queue"
	"github.com/jonboulle/clockwork"
)

// ClientConfig holds all configuration for the conversation client.
type ClientConfig struct {
	// Fetcher performs the network calls. Required.
	Fetcher Fetcher

	// QueryInfo supplies the sniffed TweetDetail query id and features.
	// Defaults are used when nil or when it has nothing.
	QueryInfo QueryInfoProvider

	// Origin is the web origin used to build request URLs. Default: https://x.com
	Origin string

	// Queue is the shared request lane. When nil the client creates and owns one.
	Queue *queue.Queue

	// Clock drives rate-limit timing. Default: the real clock.
	Clock clockwork.Clock

	// ResumeFloor is the minimum pause after a rate limit, used for an owned queue.
	// Default: 5s
	ResumeFloor time.Duration

	// MetricsHook is called once per completed fetch for external metrics collection.
	// endpoint is the operation name, success and rateLimited indicate the outcome.
	MetricsHook func(endpoint string, success, rateLimited bool)
}

// defaults fills in zero-value config fields with sensible defaults.
func (cfg *ClientConfig) defaults() {
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ResumeFloor == 0 {
		cfg.ResumeFloor = 5 * time.Second
	}
}
