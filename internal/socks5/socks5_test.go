package socks5

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

func TestSelectMethod(t *testing.T) {
	t.Parallel()

	creds := Auth{Username: "user", Password: "pass"}

	tests := []struct {
		name     string
		offered  []byte
		auth     Auth
		required bool
		want     byte
	}{
		{name: "no_auth_only", offered: []byte{0x00}, want: MethodNone},
		{name: "required_userpass_offered", offered: []byte{0x00, 0x02}, auth: creds, required: true, want: MethodUsernamePassword},
		{name: "required_userpass_missing", offered: []byte{0x00}, auth: creds, required: true, want: MethodNoAcceptable},
		{name: "opportunistic_userpass", offered: []byte{0x00, 0x02}, auth: creds, want: MethodUsernamePassword},
		// Without configured credentials there is nothing to check a
		// username/password against, so no-auth wins even when 0x02 is offered.
		{name: "userpass_without_credentials", offered: []byte{0x02, 0x00}, want: MethodNone},
		{name: "userpass_only_without_credentials", offered: []byte{0x02}, want: MethodNoAcceptable},
		{name: "only_gssapi", offered: []byte{0x01}, want: MethodNoAcceptable},
		{name: "empty", offered: nil, want: MethodNoAcceptable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SelectMethod(tt.offered, tt.auth, tt.required); got != tt.want {
				t.Fatalf("SelectMethod(%v) = %#x, want %#x", tt.offered, got, tt.want)
			}
		})
	}
}

func TestServerNegotiate(t *testing.T) {
	creds := Auth{Username: "user", Password: "pass"}

	tests := []struct {
		name      string
		auth      Auth
		required  bool
		methods   []byte
		user      string
		pass      string
		rawAuth   []byte
		wantReply []byte
		wantUser  string
		wantErr   error
	}{
		{
			name:      "no_auth",
			methods:   []byte{0x00},
			wantReply: []byte{0x05, 0x00},
		},
		{
			name:      "user_pass",
			auth:      creds,
			required:  true,
			methods:   []byte{0x00, 0x02},
			user:      "user",
			pass:      "pass",
			wantReply: []byte{0x05, 0x02, 0x01, 0x00},
			wantUser:  "user",
		},
		{
			name:      "bad_password",
			auth:      creds,
			required:  true,
			methods:   []byte{0x02},
			user:      "user",
			pass:      "nope",
			wantReply: []byte{0x05, 0x02, 0x01, 0xff},
			wantErr:   ErrAuthFailed,
		},
		{
			name:      "empty_password",
			auth:      creds,
			required:  true,
			methods:   []byte{0x02},
			rawAuth:   append(append([]byte{0x01, 0x04}, "user"...), 0x00),
			wantReply: []byte{0x05, 0x02, 0x01, 0xff},
			wantErr:   ErrAuthFailed,
		},
		{
			name:      "no_acceptable",
			auth:      creds,
			required:  true,
			methods:   []byte{0x00},
			wantReply: []byte{0x05, 0xff},
			wantErr:   ErrNoAcceptableMethods,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()

			var gotUser string
			g := errgroup.Group{}
			g.Go(func() error {
				defer serverConn.Close()
				u, err := ServerNegotiate(serverConn, byte(len(tt.methods)), tt.auth, tt.required)
				gotUser = u
				return err
			})

			g.Go(func() error {
				if _, err := clientConn.Write(tt.methods); err != nil {
					return err
				}
				if tt.user == "" && tt.rawAuth == nil {
					return nil
				}
				// The server writes the method selection before reading the
				// subnegotiation, so read it first to keep the pipe moving.
				sel := make([]byte, 2)
				if _, err := io.ReadFull(clientConn, sel); err != nil {
					return err
				}
				if tt.rawAuth != nil {
					if _, err := clientConn.Write(tt.rawAuth); err != nil {
						return err
					}
				} else if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(tt.user), []byte(tt.pass)).WriteTo(clientConn); err != nil {
					return err
				}
				rest, err := io.ReadAll(clientConn)
				if err != nil {
					return err
				}
				got := append(sel, rest...)
				if !bytes.Equal(got, tt.wantReply) {
					t.Errorf("reply = % x, want % x", got, tt.wantReply)
				}
				return nil
			})

			if tt.user == "" && tt.rawAuth == nil {
				got, err := io.ReadAll(clientConn)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, tt.wantReply) {
					t.Fatalf("reply = % x, want % x", got, tt.wantReply)
				}
			}

			err := g.Wait()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if gotUser != tt.wantUser {
				t.Fatalf("user = %q, want %q", gotUser, tt.wantUser)
			}
		})
	}
}

func TestServerReadRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []byte
		wantAddr string
		wantAtyp byte
		wantErr  bool
	}{
		{
			name:     "ipv4",
			in:       []byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50},
			wantAddr: "127.0.0.1:80",
			wantAtyp: ATYPIPv4,
		},
		{
			name:     "domain",
			in:       append([]byte{0x05, 0x01, 0x00, 0x03, 11}, append([]byte("example.com"), 0x01, 0xbb)...),
			wantAddr: "example.com:443",
			wantAtyp: ATYPDomain,
		},
		{
			name:     "ipv6",
			in:       append(append([]byte{0x05, 0x01, 0x00, 0x04}, net.IPv6loopback...), 0x1f, 0x90),
			wantAddr: "[::1]:8080",
			wantAtyp: ATYPIPv6,
		},
		{
			name:    "unknown_atyp",
			in:      []byte{0x05, 0x01, 0x00, 0x09, 1, 2, 3, 4, 0, 80},
			wantErr: true,
		},
		{
			name:    "short",
			in:      []byte{0x05, 0x01, 0x00, 0x01, 127},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := ServerReadRequest(bytes.NewReader(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", req)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if req.Cmd != CmdConnect {
				t.Fatalf("cmd = %d", req.Cmd)
			}
			if req.Atyp != tt.wantAtyp {
				t.Fatalf("atyp = %d, want %d", req.Atyp, tt.wantAtyp)
			}
			if got := req.Address(); got != tt.wantAddr {
				t.Fatalf("address = %q, want %q", got, tt.wantAddr)
			}
		})
	}
}

func TestReplies(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteSuccessReply(&buf, &net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 0x1234}); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x05, 0x00, 0x00, 0x01, 10, 1, 2, 3, 0x12, 0x34}; !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("success = % x, want % x", buf.Bytes(), want)
	}

	buf.Reset()
	if err := WriteConnectionRefusedReply(&buf, ATYPIPv4); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}; !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("refused = % x, want % x", buf.Bytes(), want)
	}

	buf.Reset()
	if err := WriteConnectionRefusedReply(&buf, ATYPIPv6); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4+16+2 || buf.Bytes()[3] != ATYPIPv6 {
		t.Fatalf("refused v6 = % x", buf.Bytes())
	}
}
