// Package connector opens tunnels to a remote host, through an HTTP
// CONNECT proxy when one is configured and directly otherwise.
//
// A failed proxy dial falls back to a direct dial exactly once.  A
// proxy that accepts the TCP connection but rejects or garbles the
// CONNECT exchange is a hard failure.
package connector

import (
	"context"
	"io"
	"time"

	"ptun/config"
	ncerr "ptun/internal/errors"
	"ptun/internal/metrics"
	"ptun/internal/retry"
	"ptun/internal/stream"
	"ptun/internal/transport"
	"ptun/util"
)

// Connector establishes tunnel streams.  A zero Metrics or Breaker
// disables that feature.
type Connector struct {
	Dialer  transport.Dialer
	Logger  *util.Logger
	Metrics *metrics.Collector

	// Breaker, when set, skips the proxy attempt while open.  Proxy
	// dial outcomes feed it.
	Breaker *retry.CircuitBreaker
}

// New returns a Connector dialling through d.
func New(d transport.Dialer, logger *util.Logger) *Connector {
	return &Connector{Dialer: d, Logger: logger}
}

// Connect returns a stream to target.  With a non-nil proxy the stream
// carries a completed CONNECT exchange and its read position is the
// first tunnelled byte.  Cancelling ctx aborts any blocking step.
func (c *Connector) Connect(ctx context.Context, target config.Tunnel, proxy *config.Proxy) (*stream.Stream, error) {
	s, err := c.open(ctx, target, proxy)
	if err != nil {
		c.Metrics.RecordError(err.Error())
		return nil, err
	}

	// Dial honours ctx on its own; the exchange needs a deadline.
	stop := context.AfterFunc(ctx, func() {
		s.SetDeadline(time.Unix(1, 0)) //nolint:errcheck
	})

	err = c.exchange(s, target, proxy)
	if !stop() {
		err = ctx.Err()
	}
	if err != nil {
		if ncerr.IsProtocol(err) {
			c.Logger.Verbose("proxy %s refused tunnel to %s: %v", proxy.Addr(), target.RemoteAddr(), err)
		}
		s.Close()
		if s.IsProxied() {
			err = ncerr.Wrap("handshake", proxy.Addr(), err)
		} else {
			err = ncerr.Wrap("dial", target.RemoteAddr(), err)
		}
		c.Metrics.RecordError(err.Error())
		return nil, err
	}

	c.Metrics.Connected(s.IsProxied())
	return s, nil
}

// open dials the proxy, falling back to target, or target alone.
func (c *Connector) open(ctx context.Context, target config.Tunnel, proxy *config.Proxy) (*stream.Stream, error) {
	if proxy != nil {
		if c.Breaker == nil || c.Breaker.Allow() {
			c.Logger.Debug("connecting via proxy %s", proxy.Addr())
			conn, err := c.Dialer.Dial(ctx, "tcp", proxy.Addr())
			if c.Breaker != nil {
				c.Breaker.Record(err)
			}
			if err == nil {
				return stream.New(conn, true), nil
			}
			c.Logger.Warn("proxy connection failed (%v), trying direct", err)
		} else {
			c.Logger.Warn("proxy %s bypassed (%v), trying direct", proxy.Addr(), ncerr.ErrCircuitOpen)
		}
		c.Metrics.ProxyFallback()
	}

	addr := target.RemoteAddr()
	c.Logger.Debug("connecting directly to %s", addr)
	conn, err := c.Dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}
	return stream.New(conn, false), nil
}

// exchange writes the CONNECT request and validates the reply.  It is
// a no-op on a direct stream.
func (c *Connector) exchange(s *stream.Stream, target config.Tunnel, proxy *config.Proxy) error {
	var req []byte
	if s.IsProxied() {
		req = connectRequest(target)
	}
	if err := writeAll(s, req); err != nil {
		return err
	}
	if !s.IsProxied() {
		return nil
	}

	if err := newResponseScanner(s).run(); err != nil {
		return err
	}
	c.Logger.Debug("proxy %s opened tunnel to %s", proxy.Addr(), target.RemoteAddr())
	return nil
}

// connectRequest renders the CONNECT request line for target.
func connectRequest(target config.Tunnel) []byte {
	return []byte("CONNECT " + target.RemoteAddr() + " HTTP/1.1\r\n\r\n")
}

// writeAll writes p in full, retrying short writes.  An empty p does no
// I/O.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
