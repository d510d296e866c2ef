package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle limits how fast each client may hit expensive endpoints (vision
// calls, remote sync). Idle entries are evicted until ctx is canceled.
type Throttle struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewThrottle creates a per-client limiter allowing rps requests per second
// with the given burst.
func NewThrottle(ctx context.Context, rps float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	t := &Throttle{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
	go t.cleanup(ctx)
	return t
}

// Wrap returns fn guarded by the throttle.
func (t *Throttle) Wrap(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.limiter(clientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}` + "\n")) //nolint:errcheck
			return
		}
		fn(w, r)
	}
}

func (t *Throttle) limiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.clients[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (t *Throttle) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.evict(10 * time.Minute)
		}
	}
}

func (t *Throttle) evict(idle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, entry := range t.clients {
		if time.Since(entry.lastSeen) > idle {
			delete(t.clients, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
