package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler serves one proxy connection at a time per ServeConn call; a single
// Handler is shared by every connection of a listener.
type Handler struct {
	cfg  Config
	pool *bufferPool
}

// NewHandler returns a Handler using cfg. cfg.Dialer and cfg.Resolver must be
// set.
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg, pool: newBufferPool(cfg.bufferSize())}
}

// connState is everything known about one proxied connection. It is owned by
// the goroutine running ServeConn.
type connState struct {
	id     uuid.UUID
	log    zerolog.Logger
	client *onceConn
	addr   netip.AddrPort

	proto Protocol
	// dstHost is the domain when the client asked for one, else empty.
	dstHost string
	dstIP   netip.Addr
	dstPort uint16
	user    string

	mu       sync.Mutex
	upstream *onceConn
	closed   bool
}

// setUpstream records up as the connection's single upstream socket. It
// fails, closing up, when the connection was already torn down.
func (cs *connState) setUpstream(up *onceConn) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		_ = up.Close()
		return net.ErrClosed
	}
	cs.upstream = up
	return nil
}

func (cs *connState) close() {
	cs.mu.Lock()
	cs.closed = true
	up := cs.upstream
	cs.mu.Unlock()

	_ = cs.client.Close()
	if up != nil {
		_ = up.Close()
	}
}

// ServeConn runs the proxy protocol on conn and closes it before returning.
// Canceling ctx closes both sockets, unblocking any pending read.
//
// The returned error describes why the connection ended early; a relay that
// finished because either side closed returns nil.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) error {
	cs := &connState{
		id:     uuid.New(),
		client: newOnceConn(conn),
	}
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		cs.addr = ta.AddrPort()
	}
	cs.log = h.cfg.Logger.With().
		Str("conn", cs.id.String()).
		Str("client", conn.RemoteAddr().String()).
		Logger()

	defer cs.close()
	stop := context.AfterFunc(ctx, cs.close)
	defer stop()

	if !h.allowed(cs.addr) {
		cs.log.Warn().Msg("connection denied, address not in allow list")
		return ErrDenied
	}
	cs.log.Info().Msg("connection accepted")

	if d := h.cfg.NegotiationTimeout; d > 0 {
		_ = conn.SetDeadline(time.Now().Add(d))
	}

	var hdr [2]byte
	if _, err := io.ReadFull(cs.client, hdr[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	g, err := Negotiate(hdr)
	if err != nil {
		return err
	}
	cs.proto = g.Protocol()
	cs.log = cs.log.With().Stringer("proto", cs.proto).Logger()
	cs.log.Info().Msgf("client requesting %s proxy", cs.proto)

	if !h.enabled(cs.proto) {
		cs.log.Warn().Msg("request received for disabled proxy type")
		return fmt.Errorf("%s: %w", cs.proto, ErrProtocolDisabled)
	}

	switch g := g.(type) {
	case SOCKS4Greeting:
		err = h.serveSOCKS4(ctx, cs, g)
	case SOCKS5Greeting:
		err = h.serveSOCKS5(ctx, cs, g)
	case HTTPGreeting:
		err = h.serveHTTP(ctx, cs, g)
	}
	return err
}

func (h *Handler) enabled(p Protocol) bool {
	switch p {
	case ProtocolSOCKS4, ProtocolSOCKS5:
		return h.cfg.Protocols.SOCKS
	case ProtocolHTTP, ProtocolHTTPS:
		return h.cfg.Protocols.HTTP
	}
	return false
}

// connect resolves host, dials it, and registers the result as the
// connection's upstream.
func (h *Handler) connect(ctx context.Context, cs *connState, host string, port uint16) (net.Conn, error) {
	ip, err := h.cfg.Resolver.Resolve(ctx, host)
	if err != nil {
		cs.log.Error().Err(err).Str("host", host).Msg("resolve failed")
		return nil, err
	}
	if ip.String() != host {
		cs.dstHost = host
	}
	cs.dstIP = ip
	cs.dstPort = port

	dst := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	c, err := h.cfg.Dialer.DialContext(ctx, "tcp", dst)
	if err != nil {
		cs.log.Error().Err(err).Str("dst", cs.destination()).Msg("upstream connect failed")
		return nil, err
	}

	up := newOnceConn(c)
	if err := cs.setUpstream(up); err != nil {
		return nil, err
	}
	cs.log.Info().
		Str("dst", cs.destination()).
		Stringer("bound", up.LocalAddr()).
		Msg("upstream connected")
	return up, nil
}

// relay hands the connection to the relay loop after clearing handshake
// deadlines.
func (h *Handler) relay(ctx context.Context, cs *connState, up net.Conn, opts RelayOptions) error {
	_ = cs.client.SetDeadline(time.Time{})
	opts.Pool = h.pool
	opts.IdleTimeout = h.cfg.IdleTimeout

	log := cs.log.With().Str("dst", cs.destination()).Logger()
	log.Info().Msg("forwarding requests")
	stats, err := Relay(ctx, cs.client, up, opts, log)
	log.Info().
		Int64("sent", stats.ClientToUpstream).
		Int64("received", stats.UpstreamToClient).
		Msg("forwarding requests ended")
	return err
}

// destination renders the target as domain(ip):port or ip:port.
func (cs *connState) destination() string {
	port := strconv.Itoa(int(cs.dstPort))
	if cs.dstHost != "" {
		return cs.dstHost + "(" + cs.dstIP.String() + "):" + port
	}
	return net.JoinHostPort(cs.dstIP.String(), port)
}

// onceConn closes the wrapped connection exactly once.
type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func newOnceConn(c net.Conn) *onceConn {
	return &onceConn{Conn: c}
}

func (c *onceConn) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}

// isClosedErr reports errors that only mean the socket went away underneath a
// reader, either by the peer or by our own teardown.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
