package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	uploadPathPrefix  = "/api/v1/tasks/upload"
	defaultUploadRPM  = 600
	visitorSweepSize  = 1000
	visitorIdleExpiry = 10 * time.Minute
)

type bucket int

const (
	bucketGeneral bucket = iota
	bucketUpload
)

type visitorKey struct {
	ip     string
	bucket bucket
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP. Upload traffic (batch
// creation, chunk status and chunk data) draws from its own bucket so a large
// transfer does not starve task polling. A non-positive general limit
// disables limiting of general requests.
type RateLimitMiddleware struct {
	generalRPM int
	uploadRPM  int

	mu       sync.Mutex
	visitors map[visitorKey]*visitor
}

func NewRateLimitMiddleware(generalRPM int, uploadRPM int) *RateLimitMiddleware {
	if uploadRPM <= 0 {
		uploadRPM = defaultUploadRPM
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		uploadRPM:  uploadRPM,
		visitors:   make(map[visitorKey]*visitor),
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := bucketGeneral
		if strings.HasPrefix(strings.ToLower(r.URL.Path), uploadPathPrefix) {
			b = bucketUpload
		}

		if !m.allow(extractClientIP(r), b) {
			w.Header().Set("Retry-After", "60")
			writeFailure(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) rpm(b bucket) int {
	if b == bucketUpload {
		return m.uploadRPM
	}
	return m.generalRPM
}

// allow takes one token from the client's bucket, creating it on first use.
// Burst equals the per-minute rate.
func (m *RateLimitMiddleware) allow(ip string, b bucket) bool {
	perMinute := m.rpm(b)
	if perMinute <= 0 {
		return true
	}

	now := time.Now()
	key := visitorKey{ip: ip, bucket: b}

	m.mu.Lock()
	v, ok := m.visitors[key]
	if !ok {
		if len(m.visitors) >= visitorSweepSize {
			m.sweepLocked(now)
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	m.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

func (m *RateLimitMiddleware) sweepLocked(now time.Time) {
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > visitorIdleExpiry {
			delete(m.visitors, key)
		}
	}
}

// extractClientIP prefers proxy headers, then the connection address.
func extractClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
