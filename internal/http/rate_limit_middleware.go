package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, span time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// writeScope names what a write route is limited by.
type writeScope string

const (
	// scopeClient limits every write from one client address.
	scopeClient writeScope = "client"
	// scopeProfile limits team creation per owning profile.
	scopeProfile writeScope = "profile"
)

// limitKey derives the limiter key and the scope it was taken from.
type limitKey func(*http.Request) (string, writeScope)

func clientKey(req *http.Request) (string, writeScope) {
	return rateLimitKeyIP(req), scopeClient
}

// profileFromBody keys POST /teams by the profileId in its JSON body. The
// body is restored for the handler. Anything unreadable falls back to the
// client address.
func profileFromBody(req *http.Request) (string, writeScope) {
	if req.Body == nil {
		return clientKey(req)
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes+1))
	req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), req.Body))
	if err != nil {
		return clientKey(req)
	}
	var payload struct {
		ProfileID string `json:"profileId"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return clientKey(req)
	}
	if _, err := uuid.Parse(payload.ProfileID); err != nil {
		return clientKey(req)
	}
	return "profile:" + payload.ProfileID, scopeProfile
}

// withRateLimit enforces limit requests per window under the key keyFn
// derives.
func (r *Router) withRateLimit(limit int, span time.Duration, keyFn limitKey, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key, scope := keyFn(req)
		decision := r.limiter.Allow(key, limit, span)
		r.applyRateHeaders(w, limit, decision)
		if decision.allowed {
			next(w, req)
			return
		}
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		r.recordRateLimitHit(route, string(scope))
		r.logger.Warn("write rate limited", "route", route, "scope", scope, "count", decision.count)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
}

func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// memoryRateLimiter keeps one counter per key in process memory. Expired
// windows are pruned while counting, at most once per pruneEvery.
type memoryRateLimiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	pruneEvery time.Duration
	lastPrune  time.Time
	now        func() time.Time
}

type window struct {
	hits int
	ends time.Time
}

// NewMemoryRateLimiter returns a process-local limiter for single-replica
// deployments.
func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{
		windows:    make(map[string]*window),
		pruneEvery: 5 * time.Minute,
		now:        time.Now,
	}
}

func (rl *memoryRateLimiter) Allow(key string, limit int, span time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if span <= 0 {
		span = time.Minute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pruneLocked(now)

	win, ok := rl.windows[key]
	if !ok || !now.Before(win.ends) {
		win = &window{ends: now.Add(span)}
		rl.windows[key] = win
	}
	if win.hits >= limit {
		return rateDecision{count: win.hits, windowEnd: win.ends}
	}
	win.hits++
	return rateDecision{allowed: true, count: win.hits, windowEnd: win.ends}
}

func (rl *memoryRateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < rl.pruneEvery {
		return
	}
	rl.lastPrune = now
	for key, win := range rl.windows {
		if !now.Before(win.ends) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {}
