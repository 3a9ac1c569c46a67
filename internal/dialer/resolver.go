package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

var ErrNoAddress = errors.New("no IPv4 address")

type netResolver struct {
	cfg Config
	r   *net.Resolver
}

// NewNetResolver returns a Resolver backed by r, or net.DefaultResolver when
// r is nil. Domains are converted to their ASCII (punycode) form before the
// lookup.
func NewNetResolver(cfg Config, r *net.Resolver) Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &netResolver{cfg: cfg, r: r}
}

func (n *netResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, ok := parseLiteral(host); ok {
		return ip, nil
	}

	name, err := normalizeHost(host)
	if err != nil {
		return netip.Addr{}, err
	}

	timeout := n.cfg.ResolveTimeout
	if timeout == 0 {
		timeout = n.cfg.DialTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ips, err := n.r.LookupNetIP(ctx, "ip4", name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip = ip.Unmap(); ip.Is4() {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, ErrNoAddress)
}

func parseLiteral(host string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func normalizeHost(host string) (string, error) {
	if host == "" {
		return "", errors.New("resolve: empty host")
	}
	name, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", host, err)
	}
	return name, nil
}
