// Package socks5 provides the SOCKS5 handshake pieces used by the mixproxy
// connection handler.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 to keep
// method selection, username/password subnegotiation, request parsing, and
// reply framing in one place. The caller has already consumed the VER and
// NMETHODS bytes of the greeting (they are needed to tell SOCKS5 apart from
// SOCKS4 and HTTP), so the entry points here start at the METHODS field.
//
// This package is not intended to be a full SOCKS5 server; it only covers the
// CONNECT path the proxy supports.
package socks5
