package proxy

import "fmt"

// Protocol is the proxy protocol inferred from the first byte of a
// connection. The values match that byte.
type Protocol byte

const (
	ProtocolSOCKS4 Protocol = 0x04
	ProtocolSOCKS5 Protocol = 0x05
	ProtocolHTTPS  Protocol = 'C' // CONNECT tunnel
	ProtocolHTTP   Protocol = 'G' // plain forwarding, any other verb
)

func (p Protocol) String() string {
	switch p {
	case ProtocolSOCKS4:
		return "SOCKSv4"
	case ProtocolSOCKS5:
		return "SOCKSv5"
	case ProtocolHTTPS:
		return "HTTPS"
	case ProtocolHTTP:
		return "HTTP"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(p))
	}
}

// Greeting is the protocol-specific view of the two header bytes. It is one
// of SOCKS4Greeting, SOCKS5Greeting, or HTTPGreeting.
type Greeting interface {
	Protocol() Protocol
}

// SOCKS4Greeting carries the CMD byte that follows VER in a SOCKS4 request.
type SOCKS4Greeting struct {
	Cmd byte
}

func (SOCKS4Greeting) Protocol() Protocol { return ProtocolSOCKS4 }

// SOCKS5Greeting carries NMETHODS from the SOCKS5 method selection message.
type SOCKS5Greeting struct {
	NMethods byte
}

func (SOCKS5Greeting) Protocol() Protocol { return ProtocolSOCKS5 }

// HTTPGreeting holds the first two bytes of the request line, which belong to
// the request head and are forwarded with it.
type HTTPGreeting struct {
	Head    [2]byte
	Connect bool
}

func (g HTTPGreeting) Protocol() Protocol {
	if g.Connect {
		return ProtocolHTTPS
	}
	return ProtocolHTTP
}

// Negotiate classifies a connection by its two header bytes.
func Negotiate(hdr [2]byte) (Greeting, error) {
	switch hdr[0] {
	case 0x04:
		return SOCKS4Greeting{Cmd: hdr[1]}, nil
	case 0x05:
		return SOCKS5Greeting{NMethods: hdr[1]}, nil
	case 'C':
		return HTTPGreeting{Head: hdr, Connect: true}, nil
	case 'G', 'P', 'H', 'D', 'O', 'T':
		// GET, POST/PUT/PATCH, HEAD, DELETE, OPTIONS, TRACE
		return HTTPGreeting{Head: hdr}, nil
	default:
		return nil, fmt.Errorf("%w: first byte %#x", ErrUnsupportedVersion, hdr[0])
	}
}
