// ABOUTME: Expiring LRU cache in front of a remote token verifier
// ABOUTME: Saves identity provider round trips for tokens seen recently

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingVerifier remembers successful verifications. A cached principal is never
// returned past its token's expiry, even when the cache TTL is longer.
type CachingVerifier struct {
	next  TokenVerifier
	cache *expirable.LRU[string, *Principal]
	now   func() time.Time
}

// NewCachingVerifier wraps next with a cache of size entries living at most ttl.
func NewCachingVerifier(next TokenVerifier, size int, ttl time.Duration) *CachingVerifier {
	return &CachingVerifier{
		next:  next,
		cache: expirable.NewLRU[string, *Principal](size, nil, ttl),
		now:   time.Now,
	}
}

// Verify returns a cached principal when available, otherwise calls the wrapped verifier.
func (c *CachingVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	key := tokenKey(token)
	if p, ok := c.cache.Get(key); ok {
		if p.ExpiresAt.IsZero() || c.now().Before(p.ExpiresAt) {
			return p, nil
		}
		c.cache.Remove(key)
	}

	p, err := c.next.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, p)
	return p, nil
}

// Len returns the number of cached entries.
func (c *CachingVerifier) Len() int {
	return c.cache.Len()
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
