package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds the TCP connect to the destination.
	DialTimeout time.Duration
	// ResolveTimeout bounds a single name lookup. Zero means DialTimeout.
	ResolveTimeout time.Duration
	// CacheTTL enables the resolver cache when positive.
	CacheTTL time.Duration

	KeepAlive net.KeepAliveConfig
}
