package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultLocalHost is the bind address for forwards that omit one.
	DefaultLocalHost = "127.0.0.1"

	// DefaultProxyPort is used for proxy URLs without an explicit port.
	DefaultProxyPort = 8080

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds the SSH jump-host handshake.
	DefaultConnTimeout = 30 * time.Second

	// DefaultSSHKeepAlive is the interval between jump-host keepalives.
	DefaultSSHKeepAlive = 30 * time.Second

	// DefaultKeepAlive is the TCP keepalive period for outbound sockets.
	DefaultKeepAlive = 30 * time.Second

	// DefaultBreakerReset is how long the proxy is bypassed once the
	// breaker opens.
	DefaultBreakerReset = 30 * time.Second

	// DefaultAcceptBackoff and DefaultAcceptBackoffMax bound the delay
	// between retries of a temporarily failing Accept.
	DefaultAcceptBackoff    = 5 * time.Millisecond
	DefaultAcceptBackoffMax = time.Second

	// DefaultGracePeriod is how long shutdown waits for open sessions.
	DefaultGracePeriod = 5 * time.Second
)
