package socks5

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	ErrNoAcceptableMethods    = errors.New("socks5: no acceptable authentication methods")
	ErrAuthFailed             = errors.New("socks5: authentication failed")
	ErrUnsupportedAddressType = errors.New("socks5: unsupported address type")
)

// Request is a parsed SOCKS5 command request.
type Request struct {
	Cmd  byte
	Atyp byte
	// Host is the dotted-decimal IPv4, textual IPv6, or domain name from
	// DST.ADDR.
	Host string
	Port uint16
}

// Address returns Host and Port joined as host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// SelectMethod picks the method to answer a greeting with.
//
// When auth is required, only username/password is acceptable. Otherwise
// username/password is preferred when offered and credentials exist, then
// no-auth. MethodNoAcceptable is returned when nothing fits.
func SelectMethod(offered []byte, auth Auth, required bool) byte {
	switch {
	case required:
		if containsMethod(offered, MethodUsernamePassword) {
			return MethodUsernamePassword
		}
	case auth.Enabled() && containsMethod(offered, MethodUsernamePassword):
		return MethodUsernamePassword
	case containsMethod(offered, MethodNone):
		return MethodNone
	}
	return MethodNoAcceptable
}

// ServerNegotiate reads the nMethods method codes that follow the already
// consumed VER/NMETHODS header, answers with the selected method, and runs the
// RFC 1929 subnegotiation if username/password was selected. It returns the
// authenticated username, which is empty for no-auth sessions.
func ServerNegotiate(rw io.ReadWriter, nMethods byte, auth Auth, required bool) (string, error) {
	methods := make([]byte, int(nMethods))
	if _, err := io.ReadFull(rw, methods); err != nil {
		return "", fmt.Errorf("read methods: %w", err)
	}

	method := SelectMethod(methods, auth, required)
	if method == MethodNoAcceptable {
		if err := writeNoAcceptableMethods(rw); err != nil {
			return "", fmt.Errorf("negotiation reply: %w", err)
		}
		return "", ErrNoAcceptableMethods
	}
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(rw); err != nil {
		return "", fmt.Errorf("negotiation reply: %w", err)
	}

	if method != MethodUsernamePassword {
		return "", nil
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(rw)
	if errors.Is(err, txsocks5.ErrBadRequest) {
		// An empty username or password can never match configured
		// credentials.
		_, _ = txsocks5.NewUserPassNegotiationReply(UserPassStatusFailure).WriteTo(rw)
		return "", fmt.Errorf("%w: empty username or password", ErrAuthFailed)
	}
	if err != nil {
		return "", fmt.Errorf("read userpass: %w", err)
	}
	if !credentialsMatch(urq.Uname, urq.Passwd, auth) {
		_, _ = txsocks5.NewUserPassNegotiationReply(UserPassStatusFailure).WriteTo(rw)
		return "", ErrAuthFailed
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(rw); err != nil {
		return "", fmt.Errorf("write userpass: %w", err)
	}
	return string(urq.Uname), nil
}

// ServerReadRequest reads VER CMD RSV ATYP DST.ADDR DST.PORT.
//
// Unknown address types are reported as ErrUnsupportedAddressType; the caller
// treats that as a protocol violation.
func ServerReadRequest(r io.Reader) (*Request, error) {
	req, err := txsocks5.NewRequestFrom(r)
	if err != nil {
		if errors.Is(err, txsocks5.ErrBadRequest) {
			return nil, fmt.Errorf("request: %w: %w", ErrUnsupportedAddressType, err)
		}
		return nil, fmt.Errorf("request: %w", err)
	}

	out := &Request{
		Cmd:  req.Cmd,
		Atyp: req.Atyp,
		Port: binary.BigEndian.Uint16(req.DstPort),
	}

	switch req.Atyp {
	case txsocks5.ATYPIPv4, txsocks5.ATYPIPv6:
		out.Host = net.IP(req.DstAddr).String()
	case txsocks5.ATYPDomain:
		out.Host = string(req.DstAddr[1:])
	default:
		return nil, ErrUnsupportedAddressType
	}
	return out, nil
}

func credentialsMatch(user, pass []byte, auth Auth) bool {
	u := subtle.ConstantTimeCompare(user, []byte(auth.Username))
	p := subtle.ConstantTimeCompare(pass, []byte(auth.Password))
	return u&p == 1
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
