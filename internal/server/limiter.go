package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/clock"
)

// requesters above this size are swept of stale entries
const limiterSweepSize = 10000

// limiter allows one request per client ip per interval
type limiter struct {
	interval time.Duration
	clock    clock.Clock

	mx             sync.Mutex
	// per instance, each replica throttles its own clients
	requestersList map[string]time.Time
}

func newLimiter(interval time.Duration, c clock.Clock) *limiter {
	return &limiter{
		interval:       interval,
		clock:          c,
		requestersList: make(map[string]time.Time),
	}
}

func (l *limiter) allow(ip string) bool {
	now := l.clock.Now()

	l.mx.Lock()
	defer l.mx.Unlock()

	if t, ex := l.requestersList[ip]; ex && now.Sub(t) < l.interval {
		return false
	}

	if len(l.requestersList) >= limiterSweepSize {
		for k, t := range l.requestersList {
			if now.Sub(t) >= l.interval {
				delete(l.requestersList, k)
			}
		}
	}

	// storing client IP
	l.requestersList[ip] = now
	return true
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.interval <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad remote address")
			return
		}

		if !l.allow(ip) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
