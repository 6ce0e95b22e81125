// Package jump maintains an SSH session to a jump host and opens
// direct-tcpip channels through it.
package jump

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "ptun/internal/errors"
	"ptun/util"
)

// Config holds everything needed to reach the jump host.
type Config struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive is the interval between keepalive@openssh.com probes.
	// A failed probe closes the session (0 = no probes).
	KeepAlive time.Duration
}

// Addr returns host:port of the jump host.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is a lazily connected SSH session.  It is safe for concurrent
// use; Dial may be called from many goroutines once Connect succeeds.
type Client struct {
	config *Config
	client *ssh.Client
	logger *util.Logger
	mu     sync.RWMutex
	alive  bool
}

// New returns a Client ready to [Client.Connect].
func New(cfg *Config, logger *util.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &Client{config: cfg, logger: logger.Named("jump")}
}

// Connect dials the jump host and completes the SSH handshake.
func (c *Client) Connect(ctx context.Context) error {
	authMethods, err := BuildAuthMethods(c.config)
	if err != nil {
		return ncerr.WrapSSH("auth", c.config.Host, c.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(c.config)
	if err != nil {
		return ncerr.WrapSSH("hostkey", c.config.Host, c.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         c.config.ConnTimeout,
	}

	addr := c.config.Addr()
	c.logger.Debug("dialing %s as %s", addr, c.config.User)

	dialer := net.Dialer{Timeout: c.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	// The handshake has no context of its own.
	stop := context.AfterFunc(ctx, func() { tcpConn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	stop()
	if err != nil {
		tcpConn.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return ncerr.WrapSSH("handshake", c.config.Host, c.config.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = client
	c.alive = true
	c.mu.Unlock()

	go c.monitor(client)
	if c.config.KeepAlive > 0 {
		go c.keepalive(client, c.config.KeepAlive)
	}
	return nil
}

// Dial opens a channel from the jump host to address.  The returned
// connection supports CloseWrite.
func (c *Client) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	c.mu.RLock()
	client := c.client
	alive := c.alive
	c.mu.RUnlock()

	if !alive || client == nil {
		return nil, ncerr.ErrNotConnected
	}

	c.logger.Debug("opening channel to %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.WrapSSH("dial", c.config.Host, c.config.Port,
			fmt.Errorf("%s: %w", address, err))
	}
	return conn, nil
}

// Close shuts down the SSH session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alive = false
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the session is still up.
func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

// monitor waits for client to go away and clears the alive flag unless
// a newer session has replaced it.
func (c *Client) monitor(client *ssh.Client) {
	err := client.Wait()

	c.mu.Lock()
	if c.client == client {
		c.alive = false
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("session closed: %v", err)
	} else {
		c.logger.Debug("session closed")
	}
}

// keepalive probes client every interval and closes it on the first
// failed probe, so the next Dial reconnects instead of hanging on a dead
// session.
func (c *Client) keepalive(client *ssh.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.RLock()
		current := c.client == client && c.alive
		c.mu.RUnlock()
		if !current {
			return
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			c.logger.Warn("keepalive failed: %v", err)
			client.Close()
			return
		}
		c.logger.Debug("keepalive ok")
	}
}
