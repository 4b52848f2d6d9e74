package wahoo

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limit headers returned by the Wahoo Cloud API.
const (
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Limiter paces outbound requests against the remote quota. Wait is called
// before every request and may delay; it only returns an error when the
// context is cancelled during the delay. Observe is called after every
// response with the rate-limit headers the API returned.
type Limiter interface {
	Wait(ctx context.Context) error
	Observe(h http.Header)
}

// NoopLimiter applies no pacing at all.
type NoopLimiter struct{}

func (NoopLimiter) Wait(context.Context) error { return nil }

func (NoopLimiter) Observe(http.Header) {}

// QuotaLimiter keeps outgoing requests under the remote quota. A token
// bucket provides steady pacing; on top of that, when response headers show
// the quota exhausted (or a Retry-After is returned), subsequent Waits hold
// off until the advertised reset instead of letting the request fail
// remotely.
type QuotaLimiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	holdUntil time.Time

	// Injected for tests so no wall-clock pause is needed.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewQuotaLimiter creates a limiter pacing at limit requests per second
// with the given burst.
func NewQuotaLimiter(limit rate.Limit, burst int) *QuotaLimiter {
	return &QuotaLimiter{
		bucket: rate.NewLimiter(limit, burst),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Wait blocks until the next request may be sent.
func (l *QuotaLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	hold := l.holdUntil
	l.mu.Unlock()

	if d := hold.Sub(l.now()); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}

	return l.bucket.Wait(ctx)
}

// Observe updates pacing state from the response headers. A Retry-After
// always wins; otherwise a remaining count of zero holds requests until the
// advertised reset. Any response showing quota available clears the hold.
func (l *QuotaLimiter) Observe(h http.Header) {
	now := l.now()

	if secs, ok := headerInt(h, headerRetryAfter); ok {
		l.setHold(now.Add(time.Duration(secs) * time.Second))
		return
	}

	remaining, ok := headerInt(h, headerRateLimitRemaining)
	if !ok {
		return
	}

	if remaining > 0 {
		l.setHold(time.Time{})
		return
	}

	if reset, ok := headerInt(h, headerRateLimitReset); ok {
		// The reset header is either a delta in seconds or an absolute
		// epoch timestamp depending on the endpoint generation. Anything
		// larger than a year's worth of seconds is treated as an epoch.
		at := now.Add(time.Duration(reset) * time.Second)
		if reset > 365*24*3600 {
			at = time.Unix(reset, 0)
		}

		l.setHold(at)
	}
}

func (l *QuotaLimiter) setHold(until time.Time) {
	l.mu.Lock()
	l.holdUntil = until
	l.mu.Unlock()
}

// headerInt parses an integer header value.
func headerInt(h http.Header, name string) (int64, bool) {
	v := h.Get(name)
	if v == "" {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// sleepContext pauses for d, or returns early when ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
