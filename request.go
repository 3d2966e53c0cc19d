package treeverse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/ratelimit"
)

const tweetDetailEndpoint = "TweetDetail"

// StealthConfig configures a StealthFetcher.
type StealthConfig struct {
	// Session supplies the cookie credentials. Required.
	Session *Session

	// Origin is the web origin requests claim to come from. Default: https://x.com
	Origin string

	// Proxy is an optional proxy URL.
	Proxy string

	// ProfileIndex selects one of the built-in browser profiles.
	ProfileIndex int

	// RateLimit configures the local per-endpoint request window.
	RateLimit ratelimit.Config

	// Jitter enables the anti-fingerprint delay before each request.
	Jitter bool
}

// StealthFetcher is a Fetcher backed by a TLS-fingerprinted browser client.
// A locally known rate-limit window short-circuits the request into a RateLimitError.
type StealthFetcher struct {
	bc      *stealth.BrowserClient
	session *Session
	origin  string
	proxy   string
	limiter *ratelimit.Limiter
	jitter  bool
}

// NewStealthFetcher creates a fetcher for the given session.
func NewStealthFetcher(cfg StealthConfig) (*StealthFetcher, error) {
	if cfg.Session == nil {
		return nil, errors.New("stealth fetcher: session required")
	}
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	if cfg.RateLimit.RequestsPerWindow == 0 {
		cfg.RateLimit = ratelimit.DefaultConfig
	}

	profile := stealth.BuiltinProfiles[cfg.ProfileIndex%len(stealth.BuiltinProfiles)]
	if _, _, ua := cfg.Session.Credentials(); ua == "" {
		cfg.Session.mu.Lock()
		cfg.Session.userAgent = profile.UserAgent
		cfg.Session.mu.Unlock()
	}

	opts := []stealth.ClientOption{
		stealth.WithProfile(profile.TLSProfile),
		stealth.WithHeaderOrder(headerOrder),
	}
	if cfg.Proxy != "" {
		opts = append(opts, stealth.WithProxy(cfg.Proxy))
	}
	bc, err := stealth.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("stealth client: %w", err)
	}

	return &StealthFetcher{
		bc:      bc,
		session: cfg.Session,
		origin:  cfg.Origin,
		proxy:   cfg.Proxy,
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		jitter:  cfg.Jitter,
	}, nil
}

// Fetch implements Fetcher.
func (f *StealthFetcher) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	if f.limiter.IsRateLimited(tweetDetailEndpoint) || !f.limiter.Allow(tweetDetailEndpoint) {
		reset := f.limiter.AvailableAt(tweetDetailEndpoint)
		slog.Debug("local rate window closed", slog.String("request", req.ID), slog.Time("reset", reset))
		return nil, &RateLimitError{Reset: reset}
	}

	if f.jitter {
		if err := stealth.DefaultJitter.Sleep(ctx); err != nil {
			return nil, err
		}
	}

	authToken, ct0, ua := f.session.Credentials()
	body, hdrs, status, err := f.bc.DoWithHeaderOrder("GET", req.URL, sessionHeaders(f.origin, authToken, ct0, ua), nil, headerOrder)
	if err != nil {
		if f.proxy != "" {
			slog.Warn("request via proxy failed",
				slog.String("proxy", stealth.MaskProxy(f.proxy)),
				slog.Any("error", err))
		}
		return nil, fmt.Errorf("%s request: %w", tweetDetailEndpoint, err)
	}

	if newCT0 := extractCT0FromHeaders(hdrs); newCT0 != "" && newCT0 != ct0 {
		f.session.SetCT0(newCT0)
		slog.Debug("ct0 refreshed from response")
	}

	resp := &Response{
		RequestID:  req.ID,
		Body:       body,
		StatusCode: status,
		RateLimit: RateLimitInfo{
			Limit:     hdrs["x-rate-limit-limit"],
			Remaining: hdrs["x-rate-limit-remaining"],
			Reset:     hdrs["x-rate-limit-reset"],
		},
	}
	if status == 429 {
		f.limiter.MarkRateLimited(tweetDetailEndpoint, parseRateLimitReset(resp.RateLimit.Reset, time.Now()))
	}
	return resp, nil
}
