package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/mixproxy/internal/dialer"
)

// stubResolver answers from a fixed table and parses IP literals.
type stubResolver map[string]netip.Addr

func (s stubResolver) Resolve(_ context.Context, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip, nil
	}
	if ip, ok := s[host]; ok {
		return ip, nil
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, dialer.ErrNoAddress)
}

func testConfig(t *testing.T) Config {
	t.Helper()

	return Config{
		NegotiationTimeout: 2 * time.Second,
		Dialer:             dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}),
		Resolver:           stubResolver{"echo.test": netip.MustParseAddr("127.0.0.1")},
		Protocols:          Protocols{SOCKS: true, HTTP: true},
		Logger:             zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel),
	}
}

// startProxy serves cfg on a loopback port until the test ends.
func startProxy(t *testing.T, cfg Config) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", ListenOptions{})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(ctx, cfg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ln)
	}()

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		<-done
	})
	return ln.Addr().String()
}

func dialProxy(t *testing.T, addr string) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// startRecordingEcho runs an echo server that reports the remote address of
// each accepted connection, which is the proxy's bound address.
func startRecordingEcho(t *testing.T) (net.Listener, <-chan net.Addr) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	peers := make(chan net.Addr, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			peers <- c.RemoteAddr()
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return ln, peers
}

func readN(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return b
}

func mustWrite(t *testing.T, w io.Writer, b []byte) {
	t.Helper()

	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
}

func portBytes(t *testing.T, addr string) []byte {
	t.Helper()

	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	return []byte{byte(ap.Port() >> 8), byte(ap.Port())}
}
