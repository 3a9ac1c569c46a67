package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/mixproxy/internal/config"
	"github.com/die-net/mixproxy/internal/dialer"
	"github.com/die-net/mixproxy/internal/proxy"
	"github.com/die-net/mixproxy/internal/socks5"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "Path to a YAML config file. Flags set on the command line override it.")

		listen  = pflag.String("listen", "127.0.0.1:1080", "Listen address serving SOCKS4, SOCKS5 and HTTP proxy requests")
		proxies = pflag.StringSlice("proxies", []string{config.ProxySOCKS, config.ProxyHTTP}, "Enabled proxy types: socks, http")

		auth        = pflag.String("auth", "", "SOCKS5 credentials as user:pass. Empty disables username/password authentication.")
		requireAuth = pflag.Bool("require-auth", false, "Reject SOCKS5 clients that do not authenticate")
		allow       = pflag.StringSlice("allow", nil, "Client addresses or CIDR prefixes allowed to connect. Empty allows all.")

		userAgents       = pflag.String("user-agents", "", "Word list with one User-Agent per line")
		rotateUserAgents = pflag.Bool("rotate-user-agents", false, "Replace the User-Agent of plain HTTP requests with a random entry from --user-agents")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for protocol negotiation to set up connection")
		idleTimeout        = pflag.Duration("idle-timeout", 0, "Close relayed connections idle this long. 0 disables.")
		dnsCacheTTL        = pflag.Duration("dns-cache-ttl", 0, "Cache resolved destination addresses this long. 0 disables.")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		reusePort          = pflag.Bool("reuse-port", false, "Set SO_REUSEPORT on the listener")
		stripNUL           = pflag.Bool("socks4-strip-leading-nul", false, "Drop a leading NUL byte from the first SOCKS4 payload chunk")

		logLevel  = pflag.String("log-level", "info", "Log level: trace|debug|info|warn|error")
		logFormat = pflag.String("log-format", config.FormatConsole, "Log format: console|json")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	set := func(name string, apply func()) {
		if f := pflag.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("listen", func() { cfg.Listen = *listen })
	set("proxies", func() { cfg.Proxies = *proxies })
	set("auth", func() {
		cfg.Auth.Username, cfg.Auth.Password, _ = strings.Cut(*auth, ":")
	})
	set("require-auth", func() { cfg.Auth.Required = *requireAuth })
	set("allow", func() { cfg.Allow = *allow })
	set("user-agents", func() { cfg.UserAgents.File = *userAgents })
	set("rotate-user-agents", func() { cfg.UserAgents.Rotate = *rotateUserAgents })
	set("dial-timeout", func() { cfg.Timeouts.Dial = *dialTimeout })
	set("negotiation-timeout", func() { cfg.Timeouts.Negotiation = *negotiationTimeout })
	set("idle-timeout", func() { cfg.Timeouts.Idle = *idleTimeout })
	set("dns-cache-ttl", func() { cfg.DNSCacheTTL = *dnsCacheTTL })
	set("tcp-keepalive", func() { cfg.TCPKeepAlive = *tcpKeepAlive })
	set("reuse-port", func() { cfg.ReusePort = *reusePort })
	set("socks4-strip-leading-nul", func() { cfg.SOCKS4StripLeadingNUL = *stripNUL })
	set("log-level", func() { cfg.Log.Level = *logLevel })
	set("log-format", func() { cfg.Log.Format = *logFormat })

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ka, err := parseTCPKeepAlive(cfg.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	pcfg, err := proxyConfig(cfg, ka, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info().Str("addr", *debugListen).Msg("debug listening")
	}

	ln, err := proxy.ListenTCP(ctx, "tcp", cfg.Listen, proxy.ListenOptions{KeepAlive: ka, ReusePort: cfg.ReusePort})
	if err != nil {
		return err
	}
	srv := proxy.NewServer(ctx, pcfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("proxy serve: %w", err)
		}
		return nil
	})
	logger.Info().
		Str("addr", cfg.Listen).
		Strs("proxies", cfg.Proxies).
		Bool("auth", pcfg.Auth.Enabled()).
		Msg("proxy listening")

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info().Msg("shutting down")
	return err
}

// proxyConfig turns the validated file/flag configuration into the value
// shared by every connection handler.
func proxyConfig(cfg *config.Config, ka net.KeepAliveConfig, logger zerolog.Logger) (proxy.Config, error) {
	allowed, err := proxy.ParseAllowList(cfg.Allow)
	if err != nil {
		return proxy.Config{}, err
	}

	d, r := dialer.New(dialer.Config{
		DialTimeout: cfg.Timeouts.Dial,
		CacheTTL:    cfg.DNSCacheTTL,
		KeepAlive:   ka,
	})

	pcfg := proxy.Config{
		NegotiationTimeout: cfg.Timeouts.Negotiation,
		IdleTimeout:        cfg.Timeouts.Idle,
		Dialer:             d,
		Resolver:           r,
		Protocols: proxy.Protocols{
			SOCKS: cfg.Enabled(config.ProxySOCKS),
			HTTP:  cfg.Enabled(config.ProxyHTTP),
		},
		Auth:                  socks5.Auth{Username: cfg.Auth.Username, Password: cfg.Auth.Password},
		RequireAuth:           cfg.Auth.Required,
		AllowedNets:           allowed,
		SOCKS4StripLeadingNUL: cfg.SOCKS4StripLeadingNUL,
		Logger:                logger,
	}

	if cfg.UserAgents.Rotate {
		agents, err := config.LoadUserAgents(cfg.UserAgents.File)
		if err != nil {
			return proxy.Config{}, err
		}
		pcfg.UserAgents = proxy.RandomUserAgents(agents)
	}

	return pcfg, nil
}

func newLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid --log-level: %w", err)
	}

	var logger zerolog.Logger
	if cfg.Format == config.FormatJSON {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
