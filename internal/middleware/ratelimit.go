// Package middleware provides HTTP middleware that sits outside the
// handler adapters.
package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxTrackedClients caps the number of per-IP buckets held in memory.
const maxTrackedClients = 100000

// RateLimiter applies per-client token bucket rate limiting. Each client
// IP gets a bucket of burst tokens refilled at rate tokens per second.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rate    float64
	burst   float64
	now     func() time.Time // for testing
}

type tokenBucket struct {
	tokens   float64
	refilled time.Time
}

// NewRateLimiter creates a limiter with the given sustained rate
// (requests per second) and burst size.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Handler returns HTTP middleware enforcing the limit. Rejected requests
// get a 429 with a Retry-After header.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.take(clientIP(r))

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take consumes one token for the client. It reports the remaining
// tokens, the seconds until the next token when rejected, and whether
// the request may proceed.
func (rl *RateLimiter) take(client string) (remaining int, wait float64, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, found := rl.clients[client]
	if !found {
		if len(rl.clients) >= maxTrackedClients {
			return 0, 1 / rl.rate, false
		}
		b = &tokenBucket{tokens: rl.burst, refilled: now}
		rl.clients[client] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.refilled).Seconds()*rl.rate)
	b.refilled = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// Sweep removes buckets idle longer than maxIdle. Run it periodically so
// one-off clients do not accumulate forever.
func (rl *RateLimiter) Sweep(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for client, b := range rl.clients {
		if b.refilled.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

// StartSweeper runs Sweep on the given interval until the returned stop
// function is called.
func (rl *RateLimiter) StartSweeper(interval, maxIdle time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rl.Sweep(maxIdle)
			}
		}
	}()
	return func() { close(done) }
}

// TrackedClients returns the number of buckets currently held.
func (rl *RateLimiter) TrackedClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientIP uses RemoteAddr only. Forwarding headers are spoofable and
// would let a client dodge the limit.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
