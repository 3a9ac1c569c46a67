package socks5

import (
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// Version is the SOCKS5 protocol version byte.
	Version = txsocks5.Ver

	// CmdConnect is the SOCKS5 CONNECT command value.
	CmdConnect = txsocks5.CmdConnect

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6

	MethodNone             = txsocks5.MethodNone
	MethodUsernamePassword = txsocks5.MethodUsernamePassword
	MethodNoAcceptable     = byte(0xff)

	// UserPassStatusFailure is the subnegotiation status sent on a credential
	// mismatch. RFC 1929 treats any non-zero status as failure.
	UserPassStatusFailure = byte(0xff)
)

// Auth configures username/password authentication for SOCKS5 negotiation.
type Auth struct {
	Username string
	Password string
}

// Enabled reports whether credentials are configured.
func (a Auth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// WriteConnectionRefusedReply writes a SOCKS5 reply indicating that the
// destination connection was refused. atyp selects the zero address framing.
func WriteConnectionRefusedReply(w io.Writer, atyp byte) error {
	if _, err := newZeroAddrReply(txsocks5.RepConnectionRefused, atyp).WriteTo(w); err != nil {
		return fmt.Errorf("refused reply: %w", err)
	}
	return nil
}

// WriteSuccessReply writes a SOCKS5 success reply using localAddr as the bound
// address. The ATYP of the reply follows the family of localAddr.
func WriteSuccessReply(w io.Writer, localAddr net.Addr) error {
	a, addr, port, err := txsocks5.ParseAddress(localAddr.String())
	if err != nil {
		return fmt.Errorf("parse local address %q: %w", localAddr.String(), err)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(w); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

func newZeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeNoAcceptableMethods(w io.Writer) error {
	// RFC 1928: 0xFF indicates no acceptable methods.
	_, err := txsocks5.NewNegotiationReply(MethodNoAcceptable).WriteTo(w)
	return err
}
