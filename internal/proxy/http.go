package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

const connectEstablished = "HTTP/1.1 200 Connection established\r\n\r\n"

var (
	crlfcrlf = []byte("\r\n\r\n")
	lflf     = []byte("\n\n")
)

func (h *Handler) serveHTTP(ctx context.Context, cs *connState, g HTTPGreeting) error {
	buf, headEnd, err := readRequestHead(cs.client, g.Head[:], h.cfg.bufferSize())
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	head := buf[:headEnd]
	cs.log.Debug().Str("request_line", firstLine(head)).Msg("http request")

	host, port, err := ParseTarget(head, g.Connect)
	if err != nil {
		cs.log.Error().Err(err).Msg("error parsing request line")
		return err
	}

	up, err := h.connect(ctx, cs, host, port)
	if err != nil {
		// There is no proxy error reply here; the client just sees a close.
		return fmt.Errorf("http connect: %w", err)
	}

	if g.Connect {
		if _, err := io.WriteString(cs.client, connectEstablished); err != nil {
			return fmt.Errorf("write connect reply: %w", err)
		}
		// Anything the client sent after the head already belongs to the
		// tunnel.
		return h.relay(ctx, cs, up, RelayOptions{Initial: buf[headEnd:]})
	}

	if h.cfg.UserAgents != nil {
		rest := buf[headEnd:]
		buf = append(RewriteUserAgent(head, h.cfg.UserAgents.UserAgent()), rest...)
	}
	return h.relay(ctx, cs, up, RelayOptions{Initial: buf})
}

// readRequestHead reads until the end of the request head or until limit
// bytes are buffered. prefix holds bytes already consumed from r. It returns the
// buffered bytes and the offset just past the head terminator.
func readRequestHead(r io.Reader, prefix []byte, limit int) ([]byte, int, error) {
	buf := make([]byte, len(prefix), limit)
	copy(buf, prefix)

	for {
		if end := headEnd(buf); end >= 0 {
			return buf, end, nil
		}
		if len(buf) == limit {
			return nil, 0, ErrRequestTooLarge
		}
		n, err := r.Read(buf[len(buf):limit])
		buf = buf[:len(buf)+n]
		if err != nil {
			if end := headEnd(buf); end >= 0 {
				return buf, end, nil
			}
			return nil, 0, err
		}
	}
}

func headEnd(b []byte) int {
	if i := bytes.Index(b, crlfcrlf); i >= 0 {
		return i + len(crlfcrlf)
	}
	if i := bytes.Index(b, lflf); i >= 0 {
		return i + len(lflf)
	}
	return -1
}

func firstLine(head []byte) string {
	line, _, _ := bytes.Cut(head, []byte("\n"))
	return string(bytes.TrimRight(line, "\r"))
}

// ParseTarget extracts the destination host and port from a request head.
//
// The request-URI may be absolute ("http://host:port/path"), authority form
// ("host:port", as sent with CONNECT), or origin form ("/path"), in which
// case the Host header is used. A missing port defaults to 443 for CONNECT
// and 80 otherwise.
func ParseTarget(head []byte, connect bool) (string, uint16, error) {
	fields := strings.Fields(firstLine(head))
	if len(fields) < 2 {
		return "", 0, ErrBadRequestLine
	}
	if connect && !strings.EqualFold(fields[0], "CONNECT") {
		return "", 0, fmt.Errorf("%w: method %q", ErrBadRequestLine, fields[0])
	}

	uri := fields[1]
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	if i := strings.IndexAny(uri, "/?#"); i >= 0 {
		uri = uri[:i]
	}
	if i := strings.LastIndexByte(uri, '@'); i >= 0 {
		uri = uri[i+1:]
	}
	if uri == "" {
		uri = headerValue(head, "Host")
	}
	if uri == "" {
		return "", 0, fmt.Errorf("%w: no target host", ErrBadRequestLine)
	}

	defPort := uint16(80)
	if connect {
		defPort = 443
	}
	return splitHostPort(uri, defPort)
}

func splitHostPort(hostport string, defPort uint16) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port: either a bare name/IPv4 or a bracketed IPv6 literal.
		host = strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
		if host == "" {
			return "", 0, fmt.Errorf("%w: empty host", ErrBadRequestLine)
		}
		return host, defPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: empty host", ErrBadRequestLine)
	}
	if portStr == "" {
		return host, defPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrBadRequestLine, portStr)
	}
	return host, uint16(port), nil
}

// headerValue returns the first value of the named header in head.
func headerValue(head []byte, name string) string {
	for _, line := range strings.Split(string(head), "\n")[1:] {
		k, v, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
