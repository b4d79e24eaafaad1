package paymob

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenCache memoizes the provider auth token in process memory. Tokens are
// re-fetched when the remaining lifetime drops below the margin, so an
// expiry mid-flight is prevented up front rather than handled via 401
// retries. The cache is per-process: horizontally scaled instances each pay
// their own authentication round trip.
type tokenCache struct {
	fetch  func(ctx context.Context) (string, error)
	ttl    time.Duration
	margin time.Duration
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	sf singleflight.Group
}

func newTokenCache(ttl, margin time.Duration, fetch func(ctx context.Context) (string, error)) *tokenCache {
	return &tokenCache{
		fetch:  fetch,
		ttl:    ttl,
		margin: margin,
		now:    time.Now,
	}
}

// get returns a token with at least margin of lifetime left, fetching a
// fresh one when needed. Concurrent refreshes collapse into a single
// provider call.
func (c *tokenCache) get(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, fresh := c.token, c.now().Add(c.margin).Before(c.expiresAt)
	c.mu.Unlock()
	if fresh {
		return token, nil
	}

	v, err, _ := c.sf.Do("token", func() (any, error) {
		token, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.token = token
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
