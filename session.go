package treeverse

import (
	"strings"
	"sync"
	"time"
)

// Session holds the cookie credentials of a logged-in web session.
// Obtaining them is up to the caller; the fetcher only presents them and
// adopts a refreshed ct0 when the server hands one out.
type Session struct {
	mu             sync.Mutex
	authToken      string
	ct0            string
	userAgent      string
	ct0RefreshedAt time.Time
}

// NewSession creates a session from auth_token and ct0 cookie values.
func NewSession(authToken, ct0, userAgent string) *Session {
	return &Session{
		authToken:      authToken,
		ct0:            ct0,
		userAgent:      userAgent,
		ct0RefreshedAt: time.Now(),
	}
}

// Credentials returns a snapshot of (authToken, ct0, userAgent) under lock.
func (s *Session) Credentials() (authToken, ct0, userAgent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authToken, s.ct0, s.userAgent
}

// SetCT0 updates the ct0 from a server response.
func (s *Session) SetCT0(ct0 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ct0 = ct0
	s.ct0RefreshedAt = time.Now()
}

// CT0Age returns the time since the ct0 token was last refreshed.
func (s *Session) CT0Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.ct0RefreshedAt)
}

// extractCT0FromHeaders parses ct0 value from a set-cookie response header.
func extractCT0FromHeaders(headers map[string]string) string {
	cookie := headers["set-cookie"]
	if cookie == "" {
		return ""
	}
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		if val, ok := strings.CutPrefix(part, "ct0="); ok && val != "" {
			return val
		}
	}
	return ""
}
