package apis

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
	"golang.org/x/time/rate"
)

// visitorTTL idle period after which a caller's token bucket is discarded
const visitorTTL = time.Minute * 3

// visitor one caller's token bucket and last activity timestamp
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RequestRateLimiter keyed token bucket limiter over HTTP callers. Guards
// the mutating emit endpoints against a misbehaving upstream service.
type RequestRateLimiter struct {
	common.Component
	lock     sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

// GetRequestRateLimiter define a RequestRateLimiter and start its idle
// entry cleanup task
func GetRequestRateLimiter(
	config common.HTTPRateLimitConfig, ctxt context.Context, wg *sync.WaitGroup,
) (*RequestRateLimiter, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "request-rate-limit",
	}
	limiter := &RequestRateLimiter{
		Component: common.Component{LogTags: logTags},
		visitors:  make(map[string]*visitor),
		rps:       rate.Limit(config.RequestsPerSecond),
		burst:     config.Burst,
	}
	cleanupTimer, err := common.GetIntervalTimerInstance("rate-limit-cleanup", ctxt, wg)
	if err != nil {
		return nil, err
	}
	if err := cleanupTimer.Start(time.Minute, func() error {
		limiter.cleanup(time.Now())
		return nil
	}, false); err != nil {
		return nil, err
	}
	return limiter, nil
}

// allow check one caller against its bucket
func (l *RequestRateLimiter) allow(caller string) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	entry, ok := l.visitors[caller]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[caller] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// cleanup drop buckets idle past the TTL
func (l *RequestRateLimiter) cleanup(now time.Time) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for caller, entry := range l.visitors {
		if now.Sub(entry.lastSeen) > visitorTTL {
			delete(l.visitors, caller)
		}
	}
}

// Middleware reject requests over the caller's allowance with 429
func (l *RequestRateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			caller = r.RemoteAddr
		}
		if !l.allow(caller) {
			log.WithFields(l.LogTags).Warnf("Throttled %s", caller)
			msg := "request rate limit exceeded"
			_ = writeRESTResponse(w, http.StatusTooManyRequests, StandardResponse{
				Success: false,
				Error:   &ErrorDetail{Code: http.StatusTooManyRequests, Msg: &msg},
			})
			return
		}
		next(w, r)
	}
}
