package proxy

import "errors"

var (
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrUnsupportedCommand = errors.New("unsupported command")
	ErrBadRequestLine     = errors.New("malformed HTTP request line")
	ErrRequestTooLarge    = errors.New("HTTP request head too large")
	ErrDenied             = errors.New("client address not allowed")
	ErrProtocolDisabled   = errors.New("proxy type disabled")
)
