// Package session represents one forwarded client connection, binding
// the accepted socket to the tunnel stream opened for it.
package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"ptun/config"
	"ptun/internal/metrics"
	"ptun/internal/stream"
	"ptun/util"
)

// Session carries one client through its tunnel.
type Session struct {
	ID       uint64
	Tunnel   config.Tunnel
	Client   net.Conn
	Upstream *stream.Stream
	Logger   *util.Logger
	Metrics  *metrics.Collector
	Started  time.Time
}

// New creates a Session for client over upstream.  The logger is
// named after the tunnel and session id.
func New(id uint64, tun config.Tunnel, client net.Conn, upstream *stream.Stream, logger *util.Logger) *Session {
	return &Session{
		ID:       id,
		Tunnel:   tun,
		Client:   client,
		Upstream: upstream,
		Logger:   logger.Named(fmt.Sprintf("%s#%d", tun, id)),
		Started:  time.Now(),
	}
}

// Relay splices the client and the upstream until both sides are done
// or ctx is cancelled.  The upstream is split into a reader handle and
// a writer handle so each direction can half-close independently.
// Both sockets are closed when Relay returns.
func (s *Session) Relay(ctx context.Context) error {
	s.Metrics.SessionOpened()
	defer s.Metrics.SessionClosed()

	in, out, err := util.Relay(ctx, s.Client, s.Upstream, s.Upstream.Clone())
	s.Metrics.BytesReceived(in)
	s.Metrics.BytesSent(out)

	s.Logger.Info("closed after %s (%d bytes in, %d bytes out)",
		time.Since(s.Started).Round(time.Millisecond), in, out)
	return err
}

func (s *Session) String() string {
	via := "direct"
	if s.Upstream.IsProxied() {
		via = "via proxy"
	}
	return fmt.Sprintf("%s#%d %s -> %s (%s)",
		s.Tunnel, s.ID, s.Client.RemoteAddr(), s.Tunnel.RemoteAddr(), via)
}
