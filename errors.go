package treeverse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrEmptyTweetID is returned when a batch is requested without a tweet id.
var ErrEmptyTweetID = errors.New("empty tweet id")

// RateLimitError signals that the upstream window is exhausted until Reset.
// The request queue recognizes it and replays the request after the pause.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.Reset.Format(time.RFC3339))
}

// RateLimitReset implements queue.RateLimited.
func (e *RateLimitError) RateLimitReset() time.Time { return e.Reset }

// StatusError is a non-rate-limit HTTP failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("TweetDetail HTTP %d: %s", e.StatusCode, e.Body)
}

// errorClass categorizes GraphQL error payloads for targeted handling.
type errorClass int

const (
	errNone          errorClass = iota
	errRateLimited              // 88: rate limit exceeded
	errSuspended                // 64: account suspended
	errLocked                   // 326: account locked
	errCSRF                     // 353: csrf token mismatch
	errAuthExpired              // 32: could not authenticate
	errBlocked                  // 161: blocked from performing action
	errNotAuthorized            // 179, 219: not authorized
	errInternal                 // 131: Twitter internal error
)

func (c errorClass) String() string {
	switch c {
	case errRateLimited:
		return "rate limited"
	case errSuspended:
		return "account suspended"
	case errLocked:
		return "account locked"
	case errCSRF:
		return "csrf mismatch"
	case errAuthExpired:
		return "authentication expired"
	case errBlocked:
		return "blocked"
	case errNotAuthorized:
		return "not authorized"
	case errInternal:
		return "internal error"
	}
	return "none"
}

// classifyError inspects a response body for known Twitter error codes.
func classifyError(body []byte) errorClass {
	var errResp struct {
		Errors []struct {
			Code int `json:"code"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &errResp) != nil || len(errResp.Errors) == 0 {
		return errNone
	}

	for _, e := range errResp.Errors {
		switch e.Code {
		case 88:
			return errRateLimited
		case 64:
			return errSuspended
		case 326:
			return errLocked
		case 353:
			return errCSRF
		case 32:
			return errAuthExpired
		case 161:
			return errBlocked
		case 179, 219:
			return errNotAuthorized
		case 131:
			return errInternal
		}
	}
	return errNone
}

// parseRateLimitReset parses the x-rate-limit-reset unix timestamp header.
// Falls back to 15 minutes from now if missing or invalid.
func parseRateLimitReset(v string, now time.Time) time.Time {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(ts, 0)
	}
	return now.Add(15 * time.Minute)
}

// hasResponseData returns true if the JSON body contains a non-null "data" field.
func hasResponseData(body []byte) bool {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return false
	}
	return len(probe.Data) > 0 && string(probe.Data) != "null"
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// APIError is a GraphQL error payload without usable data.
type APIError struct {
	Reason string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("TweetDetail API error (%s): %s", e.Reason, e.Body)
}
