package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"nextread/internal/config"
)

// Endpoint classes for rate limiting. Reads are cheap, most writes are
// moderate, and the shared-state picker operations get the tightest budget
// because every call mutates the single club snapshot.
const (
	classRead     = "read"
	classStandard = "standard"
	classWrite    = "write"
)

type rateLimiter struct {
	cfg config.RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func newRateLimiter(cfg config.RateLimitConfig, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	return &rateLimiter{cfg: cfg, now: now, windows: make(map[string]*rateWindow)}
}

func (l *rateLimiter) window() time.Duration {
	if l.cfg.WindowSeconds > 0 {
		return time.Duration(l.cfg.WindowSeconds) * time.Second
	}
	return time.Minute
}

func (l *rateLimiter) limitFor(class string) int {
	switch class {
	case classRead:
		return l.cfg.Read
	case classWrite:
		return l.cfg.Write
	default:
		return l.cfg.Standard
	}
}

// allow counts a request against the caller's fixed window and reports the
// remaining budget and the window reset time.
func (l *rateLimiter) allow(key, class string) (ok bool, limit, remaining int, reset time.Time) {
	limit = l.limitFor(class)
	if limit <= 0 {
		return true, 0, 0, time.Time{}
	}
	now := l.now()
	size := l.window()

	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := key + "|" + class
	w, okw := l.windows[bucket]
	if !okw || now.Sub(w.start) >= size {
		w = &rateWindow{start: now}
		l.windows[bucket] = w
	}
	reset = w.start.Add(size)
	if w.count >= limit {
		return false, limit, 0, reset
	}
	w.count++
	return true, limit, limit - w.count, reset
}

// classify buckets a request. Picker mutations share the write class.
func classify(method, urlPath, basePath string) string {
	if method == http.MethodGet || method == http.MethodHead {
		return classRead
	}
	rel := strings.TrimPrefix(urlPath, basePath)
	switch {
	case rel == "/draw",
		strings.HasSuffix(rel, "/complete"),
		strings.HasSuffix(rel, "/decision"),
		strings.HasSuffix(rel, "/pause"),
		strings.HasSuffix(rel, "/resume"):
		return classWrite
	default:
		return classStandard
	}
}

func rateLimitKey(r *http.Request) string {
	if p, ok := principalFromContext(r.Context()); ok && p.MemberID != "" {
		return "member:" + p.MemberID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func newRateLimitMiddleware(basePath string, l *rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if basePath != "" && !strings.HasPrefix(r.URL.Path, basePath) {
				next.ServeHTTP(w, r)
				return
			}
			class := classify(r.Method, r.URL.Path, basePath)
			ok, limit, remaining, reset := l.allow(rateLimitKey(r), class)
			if limit > 0 {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
				w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
			}
			if !ok {
				retry := int(time.Until(reset).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("%s limit of %d requests per window exceeded", class, limit), nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
