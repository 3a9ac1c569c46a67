package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Direction names one half of a relay.
type Direction string

const (
	ClientToUpstream Direction = "client->upstream"
	UpstreamToClient Direction = "upstream->client"
)

// RelayOptions tunes a single Relay call.
type RelayOptions struct {
	// Initial is written to upstream before copying starts, e.g. an
	// already buffered HTTP request.
	Initial []byte
	// StripLeadingNUL drops a 0x00 at the start of the first
	// client-to-upstream chunk.
	StripLeadingNUL bool
	// IdleTimeout ends the relay when neither direction moved data for
	// this long. Zero disables it.
	IdleTimeout time.Duration
	// Pool provides transfer buffers; nil allocates DefaultBufferSize
	// buffers.
	Pool *bufferPool
}

// RelayStats counts bytes written to each far end.
type RelayStats struct {
	ClientToUpstream int64
	UpstreamToClient int64
}

// errResetRetried ends a direction after a reset write was retried once.
var errResetRetried = errors.New("connection reset")

// Relay copies bytes between client and upstream until either side closes or
// fails, then closes both. Canceling ctx closes both sockets and ends the
// relay promptly.
//
// End of stream on either side ends the whole relay; half-close is not
// propagated. A write that fails with a connection reset is retried once and
// then ends the relay without being reported as an error.
func Relay(ctx context.Context, client, upstream net.Conn, opts RelayOptions, log zerolog.Logger) (RelayStats, error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, close both sides to unblock reads.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	pool := opts.Pool
	if pool == nil {
		pool = newBufferPool(DefaultBufferSize)
	}

	var (
		lastActive atomic.Int64
		sent       atomic.Int64
		received   atomic.Int64
	)
	lastActive.Store(time.Now().UnixNano())

	up := &pump{
		dir: ClientToUpstream, src: client, dst: upstream, n: &sent,
		stripNUL: opts.StripLeadingNUL, idle: opts.IdleTimeout, lastActive: &lastActive, log: log,
	}
	down := &pump{
		dir: UpstreamToClient, src: upstream, dst: client, n: &received,
		idle: opts.IdleTimeout, lastActive: &lastActive, log: log,
	}

	if len(opts.Initial) > 0 {
		if err := up.write(opts.Initial); err != nil {
			stats := RelayStats{ClientToUpstream: sent.Load()}
			if errors.Is(err, errResetRetried) {
				return stats, nil
			}
			return stats, fmt.Errorf("write buffered request: %w", err)
		}
	}

	var g errgroup.Group
	for _, p := range []*pump{up, down} {
		g.Go(func() error {
			defer closeBoth()
			buf := pool.Get()
			defer pool.Put(buf)
			return p.run(*buf)
		})
	}
	err := g.Wait()

	return RelayStats{ClientToUpstream: sent.Load(), UpstreamToClient: received.Load()}, err
}

// pump copies one direction of a relay.
type pump struct {
	dir      Direction
	src, dst net.Conn
	n        *atomic.Int64

	stripNUL   bool
	idle       time.Duration
	lastActive *atomic.Int64

	log zerolog.Logger
}

func (p *pump) run(buf []byte) error {
	first := true
	for {
		if p.idle > 0 {
			_ = p.src.SetReadDeadline(time.Now().Add(p.idle))
		}

		n, err := p.src.Read(buf)
		if n > 0 {
			p.lastActive.Store(time.Now().UnixNano())
			b := buf[:n]
			if first && p.stripNUL && b[0] == 0x00 {
				b = b[1:]
			}
			first = false

			if len(b) > 0 {
				if werr := p.write(b); werr != nil {
					if errors.Is(werr, errResetRetried) {
						return nil
					}
					return p.ioErr(werr)
				}
			}
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && p.othersActive() {
				continue
			}
			return p.ioErr(err)
		}
	}
}

// write sends b to the far end. On a connection reset the same bytes are
// sent once more before the direction gives up.
func (p *pump) write(b []byte) error {
	_, err := p.dst.Write(b)
	if err == nil {
		p.record(len(b))
		return nil
	}
	if !isConnReset(err) {
		return err
	}

	p.log.Warn().Err(err).Str("dir", string(p.dir)).Msg("connection reset, retrying write")
	if _, rerr := p.dst.Write(b); rerr == nil {
		p.record(len(b))
	}
	return errResetRetried
}

func (p *pump) record(n int) {
	p.n.Add(int64(n))
	p.log.Debug().Str("dir", string(p.dir)).Int("bytes", n).Msg("relay")
}

// othersActive reports whether the relay as a whole saw traffic within the
// idle window, so a quiet direction does not end a busy connection.
func (p *pump) othersActive() bool {
	last := time.Unix(0, p.lastActive.Load())
	return time.Since(last) < p.idle
}

func (p *pump) ioErr(err error) error {
	if isClosedErr(err) {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: idle timeout", p.dir)
	}
	return fmt.Errorf("%s: %w", p.dir, err)
}
