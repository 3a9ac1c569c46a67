package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/die-net/mixproxy/internal/socks5"
)

func (h *Handler) serveSOCKS5(ctx context.Context, cs *connState, g SOCKS5Greeting) error {
	user, err := socks5.ServerNegotiate(cs.client, g.NMethods, h.cfg.Auth, h.cfg.RequireAuth)
	switch {
	case errors.Is(err, socks5.ErrAuthFailed):
		cs.log.Error().Msg("authentication failed, wrong username or password")
		return err
	case errors.Is(err, socks5.ErrNoAcceptableMethods):
		cs.log.Error().Msg("client offered no acceptable authentication method")
		return err
	case err != nil:
		return fmt.Errorf("socks5 negotiation: %w", err)
	}
	if user != "" {
		cs.user = user
		cs.log = cs.log.With().Str("user", user).Logger()
		cs.log.Debug().Msg("authentication succeeded")
	}

	req, err := socks5.ServerReadRequest(cs.client)
	if err != nil {
		return fmt.Errorf("socks5 request: %w", err)
	}
	cs.log.Debug().
		Uint8("cmd", req.Cmd).
		Uint8("atyp", req.Atyp).
		Str("dst", req.Address()).
		Msg("socks5 request")

	if req.Cmd != socks5.CmdConnect {
		// BIND and UDP ASSOCIATE are dropped without a reply.
		cs.log.Error().Uint8("cmd", req.Cmd).Msg("unsupported socks5 command")
		return fmt.Errorf("socks5 command %d: %w", req.Cmd, ErrUnsupportedCommand)
	}

	// Domains are resolved here, so failure replies use the IPv4 framing.
	atyp := req.Atyp
	if atyp == socks5.ATYPDomain {
		atyp = socks5.ATYPIPv4
	}

	up, err := h.connect(ctx, cs, req.Host, req.Port)
	if err != nil {
		if werr := socks5.WriteConnectionRefusedReply(cs.client, atyp); werr != nil {
			return werr
		}
		return fmt.Errorf("socks5 connect: %w", err)
	}

	if err := socks5.WriteSuccessReply(cs.client, up.LocalAddr()); err != nil {
		return err
	}

	return h.relay(ctx, cs, up, RelayOptions{})
}
