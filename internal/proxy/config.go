package proxy

import (
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/mixproxy/internal/dialer"
	"github.com/die-net/mixproxy/internal/socks5"
)

// DefaultBufferSize is the relay transfer buffer and the bound on a buffered
// HTTP request head.
const DefaultBufferSize = 4096

// Protocols selects which proxy families are served.
type Protocols struct {
	// SOCKS enables both SOCKS4 and SOCKS5.
	SOCKS bool
	// HTTP enables CONNECT tunneling and plain forwarding.
	HTTP bool
}

// Config is built once at startup and shared read-only by every handler.
type Config struct {
	// NegotiationTimeout bounds the whole handshake, from the first byte
	// until the relay starts. Zero disables it.
	NegotiationTimeout time.Duration
	// IdleTimeout closes a relay when neither direction moved data for this
	// long. Zero disables it.
	IdleTimeout time.Duration
	BufferSize  int

	Dialer   dialer.Dialer
	Resolver dialer.Resolver

	Protocols Protocols

	Auth        socks5.Auth
	RequireAuth bool

	// AllowedNets limits which client addresses may connect. Empty allows
	// everyone.
	AllowedNets []netip.Prefix

	// UserAgents supplies the replacement User-Agent for plain HTTP
	// requests. Nil leaves requests untouched.
	UserAgents UserAgentSource

	// SOCKS4StripLeadingNUL drops a leading 0x00 from the first
	// client-to-upstream chunk of SOCKS4 sessions, for clients that send
	// an extra USERID terminator.
	SOCKS4StripLeadingNUL bool

	Logger zerolog.Logger
}

func (c Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return DefaultBufferSize
}
