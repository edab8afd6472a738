package admission

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleBucketTTL = 10 * time.Minute

// RateLimiter enforces a token-bucket limit, either process-wide (a single shared bucket) or
// per-IP (one bucket per peer address, reaped when idle).
type RateLimiter struct {
	rps   float64
	burst int
	perIP bool

	shared *rate.Limiter

	mu      sync.Mutex
	buckets map[string]*ipBucket
}

type ipBucket struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
}

// NewRateLimiter builds a RateLimiter sized by rps/burst. When perIP is true, limits are
// enforced per peer address instead of process-wide.
func NewRateLimiter(rps float64, burst int, perIP bool) *RateLimiter {
	rl := &RateLimiter{rps: rps, burst: burst, perIP: perIP}
	if perIP {
		rl.buckets = make(map[string]*ipBucket)
	} else {
		rl.shared = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return rl
}

// Allow reports whether the request identified by peerAddr may proceed, consuming a token if so.
func (rl *RateLimiter) Allow(peerAddr string) bool {
	if !rl.perIP {
		return rl.shared.Allow()
	}

	ip := stripPort(peerAddr)

	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	limiter := b.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// Sweep removes per-IP buckets idle longer than idleBucketTTL, bounding memory to
// O(active peer addresses). No-op for the process-wide bucket.
func (rl *RateLimiter) Sweep() {
	if !rl.perIP {
		return
	}
	cutoff := time.Now().Add(-idleBucketTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// StartSweeper runs Sweep periodically until stop is closed.
func (rl *RateLimiter) StartSweeper(stop <-chan struct{}) {
	if !rl.perIP {
		return
	}
	ticker := time.NewTicker(idleBucketTTL / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.Sweep()
			}
		}
	}()
}

func stripPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i != -1 {
		return addr[:i]
	}
	return addr
}

// PeerAddr derives the caller's address for rate-limit keying, preferring X-Forwarded-For.
func PeerAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
