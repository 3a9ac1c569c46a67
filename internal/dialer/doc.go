// Package dialer provides the outbound side of the proxy: opening upstream
// TCP connections and resolving destination names.
//
// Dialers implement a small interface (DialContext) mirroring net.Dialer; the
// returned connection's LocalAddr is the bound address echoed back in SOCKS
// replies. Resolvers turn a domain into an IPv4 address and can be wrapped in
// a TTL cache.
package dialer
