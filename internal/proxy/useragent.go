package proxy

import (
	"bytes"
	"math/rand/v2"
)

// UserAgentSource supplies replacement User-Agent values.
type UserAgentSource interface {
	UserAgent() string
}

// RandomUserAgents picks a uniformly random entry per call.
type RandomUserAgents []string

func (r RandomUserAgents) UserAgent() string {
	if len(r) == 0 {
		return ""
	}
	return r[rand.IntN(len(r))]
}

var userAgentKey = []byte("user-agent")

// RewriteUserAgent returns a copy of the request head with the value of the
// first User-Agent header replaced by ua. The head is returned unchanged
// (still copied) when there is no such header or ua is empty.
func RewriteUserAgent(head []byte, ua string) []byte {
	out := bytes.Clone(head)
	if ua == "" {
		return out
	}

	// Skip the request line.
	i := bytes.IndexByte(head, '\n')
	for i >= 0 && i+1 < len(head) {
		start := i + 1
		end := bytes.IndexByte(head[start:], '\n')
		if end < 0 {
			end = len(head)
		} else {
			end += start
		}
		line := bytes.TrimRight(head[start:end], "\r")
		if len(line) == 0 {
			break
		}

		if colon := bytes.IndexByte(line, ':'); colon >= 0 && bytes.EqualFold(bytes.TrimSpace(line[:colon]), userAgentKey) {
			vs := start + colon + 1
			for vs < start+len(line) && (head[vs] == ' ' || head[vs] == '\t') {
				vs++
			}
			ve := start + len(line)

			out = make([]byte, 0, len(head)-(ve-vs)+len(ua))
			out = append(out, head[:vs]...)
			out = append(out, ua...)
			out = append(out, head[ve:]...)
			return out
		}
		i = end
	}
	return out
}
