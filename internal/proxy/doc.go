// Package proxy implements the mixproxy per-connection handler.
//
// A single listener accepts SOCKS4, SOCKS5, and HTTP proxy clients. The first
// two bytes of each connection select the protocol; the matching handshake
// runs, an upstream connection is opened, and bytes are relayed in both
// directions until either side closes. The package also contains the shared
// connection plumbing: keepalive listeners, buffer pools, and the relay loop.
package proxy
