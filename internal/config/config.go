// Package config handles mixproxy configuration file parsing and validation.
//
// The configuration is a YAML file. Every key is optional; command-line flags
// override whatever the file sets.
//
// Example:
//
//	listen: "127.0.0.1:1080"
//	proxies: [socks, http]
//	auth:
//	  username: alice
//	  password: secret
//	  required: true
//	allow:
//	  - 127.0.0.0/8
//	  - 192.168.0.0/16
//	user_agents:
//	  rotate: true
//	  file: "user-agents.txt"
//	timeouts:
//	  negotiation: 10s
//	  dial: 10s
//	  idle: 5m
//	dns_cache_ttl: 1m
//	tcp_keepalive: "45:45:3"
//	log:
//	  level: info
//	  format: console
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/die-net/mixproxy/internal/proxy"
)

// Proxy type names accepted in the proxies list.
const (
	ProxySOCKS = "socks"
	ProxyHTTP  = "http"
)

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config is the top-level configuration for mixproxy.
type Config struct {
	// Listen is the TCP address all proxy types are served on.
	Listen string `yaml:"listen"`

	// Proxies lists the enabled proxy types: "socks" (SOCKS4 and SOCKS5)
	// and "http" (CONNECT and plain forwarding).
	Proxies []string `yaml:"proxies"`

	Auth       AuthConfig       `yaml:"auth"`
	Allow      []string         `yaml:"allow"`
	UserAgents UserAgentsConfig `yaml:"user_agents"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`

	// DNSCacheTTL keeps resolved addresses this long. Zero disables the
	// cache.
	DNSCacheTTL time.Duration `yaml:"dns_cache_ttl"`

	// TCPKeepAlive is "on", "off" or "keepidle:keepintvl:keepcnt" in
	// seconds.
	TCPKeepAlive string `yaml:"tcp_keepalive"`

	ReusePort             bool `yaml:"reuse_port"`
	SOCKS4StripLeadingNUL bool `yaml:"socks4_strip_leading_nul"`

	Log LogConfig `yaml:"log"`
}

// AuthConfig holds the SOCKS5 username/password credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Required rejects SOCKS5 clients that do not offer username/password
	// authentication.
	Required bool `yaml:"required"`
}

// UserAgentsConfig controls User-Agent rotation for plain HTTP requests.
type UserAgentsConfig struct {
	Rotate bool `yaml:"rotate"`
	// File is a word list with one User-Agent per line. Relative paths are
	// resolved against the config file's directory.
	File string `yaml:"file"`
}

type TimeoutsConfig struct {
	Negotiation time.Duration `yaml:"negotiation"`
	Dial        time.Duration `yaml:"dial"`
	Idle        time.Duration `yaml:"idle"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Load reads and parses a YAML config file.
// Relative paths in the config are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if absDir, err := filepath.Abs(dir); err == nil {
		dir = absDir
	}
	cfg.ResolveRelativePaths(dir)

	return cfg, nil
}

// Parse parses a YAML config from raw bytes. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return &cfg, nil
}

// ResolveRelativePaths resolves relative file paths in the config against
// contextDir.
func (c *Config) ResolveRelativePaths(contextDir string) {
	if p := c.UserAgents.File; p != "" && !filepath.IsAbs(p) {
		c.UserAgents.File = filepath.Join(contextDir, p)
	}
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:1080"
	}
	if c.Proxies == nil {
		c.Proxies = []string{ProxySOCKS, ProxyHTTP}
	}
	if c.Timeouts.Negotiation == 0 {
		c.Timeouts.Negotiation = 10 * time.Second
	}
	if c.Timeouts.Dial == 0 {
		c.Timeouts.Dial = 10 * time.Second
	}
	if c.TCPKeepAlive == "" {
		c.TCPKeepAlive = "45:45:3"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = FormatConsole
	}
}

// Validate checks the configuration for errors.
// Call ApplyDefaults before Validate if you want defaults to be set.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen is required")
	}

	if len(c.Proxies) == 0 {
		return errors.New("config: proxies must enable at least one proxy type")
	}
	for _, p := range c.Proxies {
		switch p {
		case ProxySOCKS, ProxyHTTP:
			// ok
		default:
			return fmt.Errorf("config: proxies: unknown proxy type %q (want %q or %q)", p, ProxySOCKS, ProxyHTTP)
		}
	}

	if c.Auth.Required && c.Auth.Username == "" {
		return errors.New("config: auth.required needs auth.username")
	}
	if (c.Auth.Username == "") != (c.Auth.Password == "") {
		return errors.New("config: auth.username and auth.password must both be set")
	}
	if len(c.Auth.Username) > 255 || len(c.Auth.Password) > 255 {
		return errors.New("config: auth.username and auth.password are limited to 255 bytes")
	}

	if _, err := proxy.ParseAllowList(c.Allow); err != nil {
		return fmt.Errorf("config: allow: %w", err)
	}

	if c.UserAgents.Rotate && c.UserAgents.File == "" {
		return errors.New("config: user_agents.rotate needs user_agents.file")
	}

	for name, d := range map[string]time.Duration{
		"timeouts.negotiation": c.Timeouts.Negotiation,
		"timeouts.dial":        c.Timeouts.Dial,
		"timeouts.idle":        c.Timeouts.Idle,
		"dns_cache_ttl":        c.DNSCacheTTL,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative, got %s", name, d)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case FormatConsole, FormatJSON:
		// ok
	default:
		return fmt.Errorf("config: log.format must be %q or %q, got %q", FormatConsole, FormatJSON, c.Log.Format)
	}

	return nil
}

// Enabled reports whether the named proxy type is in the proxies list.
func (c *Config) Enabled(proxyType string) bool {
	return slices.Contains(c.Proxies, proxyType)
}

// LoadUserAgents reads a word list with one User-Agent per line. Blank lines
// and surrounding whitespace are dropped.
func LoadUserAgents(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("user agents: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("user agents: read %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("user agents: %s is empty", path)
	}
	return out, nil
}
