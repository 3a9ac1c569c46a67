package dialer

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingResolver remembers successful lookups for a fixed TTL. Failures are
// not cached. It is safe for concurrent use.
type CachingResolver struct {
	next  Resolver
	cache *cache.Cache
}

// NewCachingResolver wraps next with a cache whose entries live for ttl.
func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachingResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	key := strings.ToLower(host)
	if v, ok := c.cache.Get(key); ok {
		return v.(netip.Addr), nil
	}

	ip, err := c.next.Resolve(ctx, host)
	if err != nil {
		return netip.Addr{}, err
	}
	c.cache.SetDefault(key, ip)
	return ip, nil
}

// Flush drops every cached entry.
func (c *CachingResolver) Flush() {
	c.cache.Flush()
}
