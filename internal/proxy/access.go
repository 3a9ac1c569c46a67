package proxy

import (
	"fmt"
	"net/netip"
)

func (h *Handler) allowed(addr netip.AddrPort) bool {
	if len(h.cfg.AllowedNets) == 0 {
		return true
	}
	if !addr.IsValid() {
		return false
	}
	ip := addr.Addr().Unmap()
	for _, p := range h.cfg.AllowedNets {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseAllowList parses CIDR prefixes or bare addresses, which are treated as
// single-host prefixes.
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		ip, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allow entry %q: %w", e, err)
		}
		ip = ip.Unmap()
		out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return out, nil
}
