package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type rateWindowCounter struct {
	windowStart time.Time
	count       int
}

// allowRequestByRateLimit applies a fixed-window request limit per caller
// identity. This is a resource-use policy knob, not a correctness guard.
func (s *Server) allowRequestByRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if !s.config.RateLimitEnabled {
		return true
	}
	limit, window := s.config.RateLimitRequests, s.config.RateLimitWindow
	if limit <= 0 || window <= 0 {
		return true
	}

	clientKey := s.clientAddress(r)
	if clientKey == "" {
		clientKey = "unknown"
	}

	allowed, remaining, resetAt := s.consumeRateWindow(clientKey, limit, window)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

	if allowed {
		return true
	}

	retryAfter := int(resetAt.Sub(s.clock.Now()).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	return false
}

func (s *Server) clientAddress(r *http.Request) string {
	if s.config.TrustProxyHeaders {
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
				return first
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && strings.TrimSpace(host) != "" {
		return strings.TrimSpace(host)
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func (s *Server) consumeRateWindow(key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := s.clock.Now()

	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	s.cleanupRateWindowsLocked(now, window)

	entry, exists := s.rateState[key]
	if !exists || entry.windowStart.IsZero() || now.Sub(entry.windowStart) >= window {
		entry = rateWindowCounter{windowStart: now}
	}

	resetAt := entry.windowStart.Add(window)
	if entry.count >= limit {
		return false, 0, resetAt
	}

	entry.count++
	s.rateState[key] = entry
	return true, limit - entry.count, resetAt
}

func (s *Server) cleanupRateWindowsLocked(now time.Time, window time.Duration) {
	if now.Sub(s.rateSweep) < 15*time.Second {
		return
	}
	retention := window * 2
	if retention <= 0 {
		retention = 2 * time.Minute
	}
	for key, entry := range s.rateState {
		if entry.windowStart.IsZero() || now.Sub(entry.windowStart) > retention {
			delete(s.rateState, key)
		}
	}
	s.rateSweep = now
}
