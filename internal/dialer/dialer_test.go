package dialer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/die-net/mixproxy/internal/testutil"
)

func TestDirectDialer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	d := NewDirectDialer(Config{DialTimeout: 2 * time.Second})
	conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	la, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok || la.Port == 0 || la.IP.To4() == nil {
		t.Fatalf("unexpected bound address %v", conn.LocalAddr())
	}

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
}

func TestDirectDialerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	d := NewDirectDialer(Config{DialTimeout: time.Second})
	if c, err := d.DialContext(context.Background(), "tcp", addr); err == nil {
		_ = c.Close()
		t.Fatal("expected dial error")
	}
}

func TestNetResolver(t *testing.T) {
	t.Parallel()

	noDNS := &net.Resolver{
		PreferGo: true,
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("dns disabled in test")
		},
	}
	r := NewNetResolver(Config{ResolveTimeout: time.Second}, noDNS)

	tests := []struct {
		name    string
		host    string
		want    netip.Addr
		wantErr bool
	}{
		{name: "ipv4_literal", host: "192.0.2.10", want: netip.MustParseAddr("192.0.2.10")},
		{name: "ipv6_literal", host: "2001:db8::1", want: netip.MustParseAddr("2001:db8::1")},
		{name: "bracketed_ipv6", host: "[::1]", want: netip.MustParseAddr("::1")},
		{name: "mapped_ipv4", host: "::ffff:10.0.0.1", want: netip.MustParseAddr("10.0.0.1")},
		{name: "empty", host: "", wantErr: true},
		{name: "unresolvable", host: "example.invalid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve(context.Background(), tt.host)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("Resolve(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

type countingResolver struct {
	calls atomic.Int32
	ip    netip.Addr
	err   error
}

func (c *countingResolver) Resolve(context.Context, string) (netip.Addr, error) {
	c.calls.Add(1)
	return c.ip, c.err
}

func TestCachingResolver(t *testing.T) {
	t.Parallel()

	next := &countingResolver{ip: netip.MustParseAddr("198.51.100.7")}
	r := NewCachingResolver(next, time.Minute)

	for range 3 {
		ip, err := r.Resolve(context.Background(), "Example.COM")
		if err != nil {
			t.Fatal(err)
		}
		if ip != next.ip {
			t.Fatalf("got %v", ip)
		}
	}
	if _, err := r.Resolve(context.Background(), "example.com"); err != nil {
		t.Fatal(err)
	}
	if n := next.calls.Load(); n != 1 {
		t.Fatalf("next resolver called %d times, want 1", n)
	}

	r.Flush()
	if _, err := r.Resolve(context.Background(), "example.com"); err != nil {
		t.Fatal(err)
	}
	if n := next.calls.Load(); n != 2 {
		t.Fatalf("next resolver called %d times after flush, want 2", n)
	}
}

func TestCachingResolverSkipsFailures(t *testing.T) {
	t.Parallel()

	next := &countingResolver{err: ErrNoAddress}
	r := NewCachingResolver(next, time.Minute)

	for range 2 {
		if _, err := r.Resolve(context.Background(), "nowhere.test"); !errors.Is(err, ErrNoAddress) {
			t.Fatalf("err = %v", err)
		}
	}
	if n := next.calls.Load(); n != 2 {
		t.Fatalf("failures were cached: %d calls", n)
	}
}
