package dialer

import (
	"context"
	"net"
	"net/netip"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver resolves a destination host to an IPv4 address. Hosts that are
// already IP literals are returned as-is.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}

// New returns the direct dialer and, when cfg.CacheTTL is positive, a cached
// resolver; otherwise the plain net-backed resolver.
func New(cfg Config) (Dialer, Resolver) {
	var r Resolver = NewNetResolver(cfg, nil)
	if cfg.CacheTTL > 0 {
		r = NewCachingResolver(r, cfg.CacheTTL)
	}
	return NewDirectDialer(cfg), r
}
