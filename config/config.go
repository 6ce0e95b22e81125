// Package config defines the runtime configuration for ptun and provides
// helpers for parsing forward, proxy and jump-host specifications.
package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	ncerr "ptun/internal/errors"
	"ptun/util"
)

// Config holds every tuneable for a ptun run.
type Config struct {
	// ── Tunnels ──────────────────────────────────────────────────────
	Tunnels []Tunnel
	Stdio   bool // relay a single tunnel over stdin/stdout
	Timeout time.Duration

	// ── Proxy ────────────────────────────────────────────────────────
	Proxy            *Proxy
	BreakerThreshold int // consecutive proxy failures before bypassing it (0 = off)
	BreakerReset     time.Duration

	// ── SSH jump host ────────────────────────────────────────────────
	JumpSpec       string // raw [user@]host[:port] from -J
	JumpEnabled    bool
	JumpUser       string
	JumpHost       string
	JumpPort       int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	Stats   bool
	DryRun  bool
}

// Tunnel maps a local listening address to a remote destination.
// RemoteHost and RemotePort are the target of the CONNECT request.
type Tunnel struct {
	Name       string `yaml:"name"`
	LocalHost  string `yaml:"local_host"`
	LocalPort  uint16 `yaml:"local_port"`
	RemoteHost string `yaml:"remote_host"`
	RemotePort uint16 `yaml:"remote_port"`
}

// LocalAddr returns the host:port to listen on.
func (t Tunnel) LocalAddr() string {
	host := t.LocalHost
	if host == "" {
		host = DefaultLocalHost
	}
	return util.FormatAddr(host, t.LocalPort)
}

// RemoteAddr returns the destination as host:port.
func (t Tunnel) RemoteAddr() string {
	return util.FormatAddr(t.RemoteHost, t.RemotePort)
}

func (t Tunnel) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.RemoteAddr()
}

// Proxy identifies an HTTP CONNECT forward proxy.
type Proxy struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// Addr returns the proxy as host:port.
func (p Proxy) Addr() string {
	return util.FormatAddr(p.Host, p.Port)
}

// ── Spec parsers ─────────────────────────────────────────────────────

// ParsePort parses a decimal TCP port in 1-65535.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n == 0 {
		return 0, fmt.Errorf("port 0 out of range 1-65535")
	}
	return uint16(n), nil
}

// ParseHostPort splits "host:port" and validates the port.
func ParseHostPort(s string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", s)
	}
	port, err := ParsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// ParseProxy accepts "host:port" or "http://host[:port]".  A URL
// without a port gets [DefaultProxyPort].
func ParseProxy(spec string) (*Proxy, error) {
	if !strings.Contains(spec, "://") {
		host, port, err := ParseHostPort(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", spec, err)
		}
		return &Proxy{Host: host, Port: port}, nil
	}

	u, err := url.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", spec, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported proxy scheme %q (only http)", u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("proxy authentication is not supported")
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: missing host", spec)
	}
	p := &Proxy{Host: u.Hostname(), Port: DefaultProxyPort}
	if u.Port() != "" {
		if p.Port, err = ParsePort(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", spec, err)
		}
	}
	return p, nil
}

// ParseForwardSpec parses an ssh -L style forward:
// "[bind_address:]port:host:hostport".  IPv6 addresses may be written
// in brackets.
func ParseForwardSpec(spec string) (Tunnel, error) {
	parts := splitColons(spec)

	var t Tunnel
	switch len(parts) {
	case 3:
		t.LocalHost = DefaultLocalHost
	case 4:
		t.LocalHost = parts[0]
		parts = parts[1:]
	default:
		return Tunnel{}, fmt.Errorf("invalid forward %q, expected [bind:]port:host:hostport", spec)
	}

	var err error
	if t.LocalPort, err = ParsePort(parts[0]); err != nil {
		return Tunnel{}, fmt.Errorf("forward %q local: %w", spec, err)
	}
	t.RemoteHost = parts[1]
	if t.RemoteHost == "" {
		return Tunnel{}, fmt.Errorf("forward %q: remote host is required", spec)
	}
	if t.RemotePort, err = ParsePort(parts[2]); err != nil {
		return Tunnel{}, fmt.Errorf("forward %q remote: %w", spec, err)
	}
	if t.LocalHost == "" || t.LocalHost == "*" {
		t.LocalHost = "0.0.0.0"
	}
	return t, nil
}

// splitColons splits on ':' outside square brackets and strips the
// brackets from each field.
func splitColons(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ':':
			if depth == 0 {
				out = append(out, strings.Trim(s[start:i], "[]"))
				start = i + 1
			}
		}
	}
	return append(out, strings.Trim(s[start:], "[]"))
}

// jumpRe matches [user@]host[:port].
var jumpRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseJumpSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseJumpSpec(spec string) (user, host string, port int, err error) {
	m := jumpRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid jump spec %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		p, perr := ParsePort(m[3])
		if perr != nil {
			return "", "", 0, fmt.Errorf("invalid jump port %q", m[3])
		}
		port = int(p)
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Tunnels) == 0 {
		if c.Stdio {
			return &ncerr.ConfigError{
				Field:   "stdio",
				Message: "destination host and port are required",
				Hint:    "ptun --stdio <host> <port>",
			}
		}
		return &ncerr.ConfigError{
			Field:   "forward",
			Message: "at least one tunnel is required",
			Hint:    "use -L [bind:]port:host:hostport or --config tunnels.yaml",
		}
	}
	if c.Stdio && len(c.Tunnels) > 1 {
		return &ncerr.ConfigError{
			Field:   "stdio",
			Message: "stdio mode relays exactly one tunnel",
		}
	}

	seen := make(map[string]bool, len(c.Tunnels))
	for _, t := range c.Tunnels {
		if t.RemoteHost == "" {
			return &ncerr.ConfigError{Field: "forward", Value: t.String(), Message: "remote host is required"}
		}
		if t.RemotePort == 0 {
			return &ncerr.ConfigError{Field: "forward", Value: t.String(), Message: "remote port is required"}
		}
		if c.Stdio {
			continue
		}
		if t.LocalPort == 0 {
			return &ncerr.ConfigError{
				Field:   "forward",
				Value:   t.String(),
				Message: "local port is required",
				Hint:    "set local_port in the config file or use -L port:host:hostport",
			}
		}
		if seen[t.LocalAddr()] {
			return &ncerr.ConfigError{
				Field:   "forward",
				Value:   t.LocalAddr(),
				Message: "local address is used by more than one tunnel",
			}
		}
		seen[t.LocalAddr()] = true
	}

	if c.Proxy != nil && (c.Proxy.Host == "" || c.Proxy.Port == 0) {
		return &ncerr.ConfigError{
			Field:   "proxy",
			Value:   c.Proxy.Addr(),
			Message: "proxy host and port are required",
			Hint:    "use host:port, e.g. proxy.corp:3128",
		}
	}

	if c.BreakerThreshold < 0 {
		return &ncerr.ConfigError{Field: "breaker", Value: c.BreakerThreshold, Message: "must not be negative"}
	}
	if c.BreakerThreshold > 0 && c.Proxy == nil {
		return &ncerr.ConfigError{
			Field:   "breaker",
			Value:   c.BreakerThreshold,
			Message: "has no effect without a proxy",
			Hint:    "add --proxy host:port",
		}
	}

	if c.JumpEnabled && c.JumpHost == "" {
		return &ncerr.ConfigError{Field: "jump", Message: "jump host is required"}
	}
	if c.Timeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	return nil
}
