package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Server accepts connections and runs a Handler on each in its own
// goroutine.
type Server struct {
	ctx context.Context
	h   *Handler
	cfg Config
	wg  sync.WaitGroup
}

func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{ctx: ctx, h: NewHandler(cfg), cfg: cfg}
}

// Serve accepts on ln until it is closed, then waits for in-flight
// connections to finish. Closing the listener is a clean shutdown and
// returns nil.
func (s *Server) Serve(ln net.Listener) error {
	defer s.wg.Wait()

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Go(func() {
			if err := s.h.ServeConn(s.ctx, c); err != nil {
				s.cfg.Logger.Debug().Err(err).Stringer("client", c.RemoteAddr()).Msg("connection ended with error")
			}
		})
	}
}
