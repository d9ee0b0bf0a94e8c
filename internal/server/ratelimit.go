package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/plantai-go/internal/logging"
)

// defaultRateBurst is the per-IP burst when none is configured. A folder
// upload page fires one request, so 20 only matters for scripted clients.
const defaultRateBurst = 20

// Eviction settings for idle client buckets.
const (
	limiterIdleTTL   = 5 * time.Minute
	limiterSweepEach = time.Minute
	maxRetryAfter    = time.Hour
)

// clientBucket is one client's token bucket and when it was last used.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-IP token bucket on the POST endpoints.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket

	rps   rate.Limit
	burst int
	// rejected counts 429 responses. May be nil.
	rejected prometheus.Counter
	now      func() time.Time
}

// newRateLimiter starts a limiter with rps sustained requests per second and
// the given burst per client IP. Idle buckets are swept in the background
// until the returned stop function is called.
func newRateLimiter(rps float64, burst int, rejected prometheus.Counter) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[string]*clientBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		rejected: rejected,
		now:      time.Now,
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(limiterSweepEach)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				rl.sweep()
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// bucket returns the limiter for ip, creating it on first use.
func (rl *rateLimiter) bucket(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// sweep drops buckets idle for longer than limiterIdleTTL. A dropped bucket
// is recreated full, which is what an idle client would have anyway.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// size reports the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// retryAfter is the wait until lim holds a whole token, in whole seconds,
// clamped to [1s, maxRetryAfter].
func (rl *rateLimiter) retryAfter(lim *rate.Limiter) int {
	missing := 1 - lim.TokensAt(rl.now())
	wait := time.Duration(missing / float64(rl.rps) * float64(time.Second))
	wait = min(max(wait, time.Second), maxRetryAfter)
	return int(math.Ceil(wait.Seconds()))
}

// middleware answers 429 with a Retry-After header and a {"detail"} body
// once a client exhausts its bucket.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		lim := rl.bucket(ip)

		if !lim.AllowN(rl.now(), 1) {
			if rl.rejected != nil {
				rl.rejected.Inc()
			}
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter(lim)))
			writeDetail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP from the request, stripping the port.
// X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
