package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// RateLimit caps requests per client IP to limit per window. Windows are
// fixed, not sliding; a client that hits the cap is refused until its
// window resets.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	windows := make(map[string]*window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			now := time.Now()

			mu.Lock()
			// Stale entries from other clients pile up between resets;
			// sweep them once the table grows past the live set.
			if len(windows) > 4*limit {
				for k, v := range windows {
					if now.After(v.resetAt) {
						delete(windows, k)
					}
				}
			}
			win, ok := windows[key]
			if !ok || now.After(win.resetAt) {
				win = &window{resetAt: now.Add(per)}
				windows[key] = win
			}
			if win.count >= limit {
				retry := time.Until(win.resetAt)
				mu.Unlock()
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			win.count++
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first valid X-Forwarded-For hop, then the remote
// address with its port stripped.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			candidate := strings.TrimSpace(part)
			if candidate != "" && net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
