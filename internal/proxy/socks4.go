package proxy

import (
	"context"
	"fmt"

	"github.com/die-net/mixproxy/internal/socks4"
)

func (h *Handler) serveSOCKS4(ctx context.Context, cs *connState, g SOCKS4Greeting) error {
	req, err := socks4.ReadRequest(cs.client, g.Cmd)
	if err != nil {
		return fmt.Errorf("socks4 request: %w", err)
	}
	cs.log.Debug().
		Uint8("cmd", req.Cmd).
		Str("dst", req.Address()).
		Str("userid", req.UserID).
		Msg("socks4 request")

	if req.Cmd != socks4.CmdConnect {
		// BIND and unknown commands are dropped without a reply.
		cs.log.Error().Uint8("cmd", req.Cmd).Msg("unsupported socks4 command")
		return fmt.Errorf("socks4 command %d: %w", req.Cmd, ErrUnsupportedCommand)
	}

	up, err := h.connect(ctx, cs, req.Host(), req.Port)
	if err != nil {
		if werr := socks4.WriteRejectedReply(cs.client); werr != nil {
			return werr
		}
		return fmt.Errorf("socks4 connect: %w", err)
	}

	if err := socks4.WriteGrantedReply(cs.client, up.LocalAddr()); err != nil {
		return err
	}

	return h.relay(ctx, cs, up, RelayOptions{StripLeadingNUL: h.cfg.SOCKS4StripLeadingNUL})
}
