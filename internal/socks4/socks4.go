// Package socks4 implements the SOCKS4 and SOCKS4a request/reply framing used
// by the mixproxy connection handler.
package socks4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
)

const (
	// Version is the SOCKS4 protocol version byte.
	Version = 0x04

	CmdConnect = 0x01
	CmdBind    = 0x02

	RepGranted  = 0x5a // 90
	RepRejected = 0x5b // 91

	// maxFieldLen bounds the NUL-terminated USERID and SOCKS4a domain fields.
	maxFieldLen = 255
)

var ErrFieldTooLong = errors.New("socks4: field exceeds 255 bytes")

// Request is a parsed SOCKS4 request. The VER and CMD bytes are read by the
// caller before ReadRequest is invoked.
type Request struct {
	Cmd  byte
	Port uint16
	IP   netip.Addr
	// UserID is read and discarded by the proxy; identity is not checked.
	UserID string
	// Domain is set for SOCKS4a requests (DSTIP 0.0.0.x, x != 0).
	Domain string
}

// Host returns Domain when set, otherwise the IPv4 address text.
func (r *Request) Host() string {
	if r.Domain != "" {
		return r.Domain
	}
	return r.IP.String()
}

// Address returns Host and Port joined as host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host(), strconv.Itoa(int(r.Port)))
}

// ReadRequest reads DSTPORT DSTIP USERID [DOMAIN] from r.
func ReadRequest(r io.Reader, cmd byte) (*Request, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read port/address: %w", err)
	}

	req := &Request{
		Cmd:  cmd,
		Port: binary.BigEndian.Uint16(hdr[0:2]),
		IP:   netip.AddrFrom4([4]byte(hdr[2:6])),
	}

	user, err := readNulString(r)
	if err != nil {
		return nil, fmt.Errorf("read userid: %w", err)
	}
	req.UserID = user

	if isSOCKS4a(req.IP) {
		domain, err := readNulString(r)
		if err != nil {
			return nil, fmt.Errorf("read domain: %w", err)
		}
		req.Domain = domain
	}

	return req, nil
}

// WriteGrantedReply writes VN=0 REP=90 with localAddr as DSTPORT/DSTIP.
// Non-IPv4 bound addresses are sent as 0.0.0.0.
func WriteGrantedReply(w io.Writer, localAddr net.Addr) error {
	var ip net.IP
	var port int
	if ta, ok := localAddr.(*net.TCPAddr); ok {
		ip = ta.IP.To4()
		port = ta.Port
	}
	return writeReply(w, RepGranted, uint16(port), ip)
}

// WriteRejectedReply writes VN=0 REP=91 with zero port and address.
func WriteRejectedReply(w io.Writer) error {
	return writeReply(w, RepRejected, 0, nil)
}

func writeReply(w io.Writer, rep byte, port uint16, ip4 net.IP) error {
	b := make([]byte, 8)
	b[1] = rep
	binary.BigEndian.PutUint16(b[2:4], port)
	if ip4 != nil {
		copy(b[4:8], ip4)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("socks4 reply: %w", err)
	}
	return nil
}

func isSOCKS4a(ip netip.Addr) bool {
	b := ip.As4()
	return b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] != 0
}

// readNulString reads up to and excluding a NUL terminator, one byte at a time
// so nothing past the terminator is consumed.
func readNulString(r io.Reader) (string, error) {
	var (
		buf []byte
		b   [1]byte
	)
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		if len(buf) == maxFieldLen {
			return "", ErrFieldTooLong
		}
		buf = append(buf, b[0])
	}
}
