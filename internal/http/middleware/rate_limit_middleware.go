package middleware

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/medico24/medico24-auth/internal/config"
	"github.com/medico24/medico24-auth/internal/http/response"
	"github.com/medico24/medico24-auth/internal/observability"
)

// Decision is the outcome of one rate-limit check. RetryAfter is only
// meaningful when Allowed is false; it is the time until the oldest counted
// hit leaves the window, so it is always positive and never exceeds the
// window size.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter answers whether one more hit for the key fits inside the sliding
// window right now. Implementations must count the hit atomically with the
// check so concurrent callers can never overshoot the limit.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// KeyFunc derives the limiter key and its type label from the request.
type KeyFunc func(r *http.Request) (key, keyType string)

// SubjectOrIPKeyFunc buckets authenticated traffic per identity and the rest
// per client IP, so one noisy user cannot exhaust a shared NAT's budget.
func SubjectOrIPKeyFunc(r *http.Request) (string, string) {
	if ac, ok := ClaimsFromContext(r.Context()); ok {
		return fmt.Sprintf("sub:%d", ac.IdentityID), "subject"
	}
	return "ip:" + ClientIP(r), "ip"
}

// IPKeyFunc buckets everything per client IP. Used on the pre-auth routes
// where no subject exists yet.
func IPKeyFunc(r *http.Request) (string, string) {
	return "ip:" + ClientIP(r), "ip"
}

// ClientIP prefers the first X-Forwarded-For entry and otherwise strips the
// port from RemoteAddr. Bare addresses without a port pass through as-is.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const (
	limiterRetryAttempts = 3
	limiterRetryBackoff  = 25 * time.Millisecond
)

// allowWithRetry re-queries the backend on transient errors before the
// failure mode gets a say; a single blip must not decide an auth request.
func allowWithRetry(ctx context.Context, limiter Limiter, key string) (Decision, error) {
	var decision Decision
	var err error
	for attempt := 0; attempt < limiterRetryAttempts; attempt++ {
		decision, err = limiter.Allow(ctx, key)
		if err == nil {
			return decision, nil
		}
		if attempt < limiterRetryAttempts-1 {
			time.Sleep(limiterRetryBackoff + time.Duration(rand.Int63n(int64(limiterRetryBackoff))))
		}
	}
	return decision, err
}

// RateLimit enforces the limiter on every request through it. Persistent
// backend errors follow the failure mode: fail-open admits the request,
// fail-closed answers 503 so auth endpoints never run unmetered.
func RateLimit(limiter Limiter, scope string, mode config.FailureMode, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, keyType := keyFn(r)
			decision, err := allowWithRetry(r.Context(), limiter, scope+":"+key)
			if err != nil {
				if mode == config.FailOpen {
					observability.RecordRateLimitDecision(r.Context(), scope, "error_allowed", string(mode), keyType)
					next.ServeHTTP(w, r)
					return
				}
				observability.RecordRateLimitDecision(r.Context(), scope, "error_denied", string(mode), keyType)
				response.Error(w, r, http.StatusServiceUnavailable, response.CodeDependencyUnready, "rate limiter unavailable")
				return
			}

			setRateLimitHeaders(w, decision)
			if !decision.Allowed {
				retrySeconds := int(decision.RetryAfter.Seconds())
				if retrySeconds < 1 {
					retrySeconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
				observability.RecordRateLimitDecision(r.Context(), scope, "denied", string(mode), keyType)
				observability.RecordRateLimitRetryAfter(r.Context(), scope, "window_full", decision.RetryAfter)
				response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "rate limit exceeded")
				return
			}

			observability.RecordRateLimitDecision(r.Context(), scope, "allowed", string(mode), keyType)
			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// LocalSlidingWindowLimiter keeps per-key hit timestamps in memory. Suitable
// for single-instance deployments and tests; multi-instance deployments use
// the Redis limiter so the window is shared.
type LocalSlidingWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewLocalSlidingWindowLimiter(limit int, window time.Duration) *LocalSlidingWindowLimiter {
	return &LocalSlidingWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

func (l *LocalSlidingWindowLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hits[key]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.hits[key] = kept
		oldest := kept[0]
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			RetryAfter: oldest.Add(l.window).Sub(now),
			ResetAt:    oldest.Add(l.window),
		}, nil
	}

	kept = append(kept, now)
	l.hits[key] = kept
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(kept),
		ResetAt:   kept[0].Add(l.window),
	}, nil
}

// Sweep drops keys whose every hit has aged out. Called periodically by the
// app so idle keys do not accumulate.
func (l *LocalSlidingWindowLimiter) Sweep() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}
