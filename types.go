package treeverse

import "time"

// Tweet is one normalized tweet record. It is immutable once parsed.
type Tweet struct {
	ID          string
	ParentID    string // empty when the tweet is not a reply
	Handle      string
	DisplayName string
	AvatarURL   string
	BodyHTML    string
	BodyText    string
	CreatedAt   time.Time
	Replies     int
	Images      []string
	Videos      []Video
	RTL         bool
}

// Video is a playable media attachment.
type Video struct {
	VideoURL     string
	ThumbnailURL string
}

// Time returns the tweet time in milliseconds since epoch.
func (t *Tweet) Time() int64 {
	return t.CreatedAt.UnixMilli()
}

// URL returns a link to this tweet on x.com.
func (t *Tweet) URL() string {
	return "https://x.com/" + t.Handle + "/status/" + t.ID
}

// UserURL returns a link to the author's profile.
func (t *Tweet) UserURL() string {
	return "https://x.com/" + t.Handle
}

// Batch is the normalized result of parsing one TweetDetail response.
type Batch struct {
	RootID string
	Tweets []*Tweet
	Cursor string // empty when no further page is known
}

// RateLimitInfo mirrors the x-rate-limit-* response headers.
type RateLimitInfo struct {
	Limit     string
	Remaining string
	Reset     string
}

// Response is what a Fetcher returns for one request.
type Response struct {
	RequestID  string // echoes FetchRequest.ID; may be left empty
	Body       []byte
	StatusCode int
	RateLimit  RateLimitInfo
}
