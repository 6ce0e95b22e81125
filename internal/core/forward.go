package core

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ptun/config"
	"ptun/internal/connector"
	ncerr "ptun/internal/errors"
	"ptun/internal/metrics"
	"ptun/internal/retry"
	"ptun/internal/session"
	"ptun/util"
)

// ForwardMode listens on every tunnel's local address and carries each
// accepted client to the tunnel's remote through the connector.
type ForwardMode struct {
	Tunnels   []config.Tunnel
	Proxy     *config.Proxy
	Connector *connector.Connector
	Metrics   *metrics.Collector
	Logger    *util.Logger

	// GracePeriod bounds how long Run waits for open sessions after
	// ctx is cancelled (default config.DefaultGracePeriod).
	GracePeriod time.Duration

	// Stats logs the metrics snapshot when Run returns.
	Stats bool

	// Listening, when set, is called with each bound listener address
	// before any client is accepted.
	Listening func(tun config.Tunnel, addr net.Addr)

	nextID atomic.Uint64
	active atomic.Int64
}

// Run binds every tunnel and serves until ctx is cancelled or a
// listener fails.  A failure to bind any tunnel closes the others and
// is returned before anything is served.
func (m *ForwardMode) Run(ctx context.Context) error {
	defer m.Connector.Dialer.Close()

	listeners := make([]net.Listener, 0, len(m.Tunnels))
	for _, tun := range m.Tunnels {
		ln, err := net.Listen("tcp", tun.LocalAddr())
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return ncerr.Wrap("listen", tun.LocalAddr(), err)
		}
		listeners = append(listeners, ln)
		m.Logger.Info("%s: listening on %s, forwarding to %s", tun, ln.Addr(), tun.RemoteAddr())
		if m.Listening != nil {
			m.Listening(tun, ln.Addr())
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		for _, ln := range listeners {
			ln.Close()
		}
	})
	defer stop()

	// Sessions outlive ctx by up to the grace period.
	sessCtx, killSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer killSessions()

	var sessions sync.WaitGroup
	errCh := make(chan error, len(listeners))
	for i, ln := range listeners {
		go func(tun config.Tunnel, ln net.Listener) {
			errCh <- m.serve(ctx, sessCtx, tun, ln, &sessions)
		}(m.Tunnels[i], ln)
	}

	var err error
	for range listeners {
		if e := <-errCh; e != nil && err == nil {
			err = e
			cancel()
		}
	}

	m.drain(&sessions, killSessions)
	if m.Stats {
		m.Logger.Info("stats:\n%s", m.Metrics.JSON())
	}
	return err
}

// serve runs the accept loop for one tunnel.  Temporary accept errors
// are retried with backoff; it returns nil once ctx is done.
func (m *ForwardMode) serve(ctx, sessCtx context.Context, tun config.Tunnel, ln net.Listener, wg *sync.WaitGroup) error {
	for {
		var conn net.Conn
		err := m.acceptBackoff().Do(ctx, func(int) error {
			c, err := ln.Accept()
			switch {
			case err == nil:
				conn = c
				return nil
			case ctx.Err() != nil:
				return retry.Permanent(ctx.Err())
			case ncerr.IsTemporary(err):
				m.Logger.Warn("%s: accept: %v, retrying", tun, err)
				return err
			default:
				return retry.Permanent(err)
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return ncerr.Wrap("accept", tun.LocalAddr(), err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.handle(sessCtx, tun, conn)
		}()
	}
}

// handle opens the tunnel for one client and relays until either side
// is done.
func (m *ForwardMode) handle(ctx context.Context, tun config.Tunnel, client net.Conn) {
	m.active.Add(1)
	defer m.active.Add(-1)

	id := m.nextID.Add(1)
	m.Logger.Verbose("%s: connection from %s", tun, client.RemoteAddr())

	up, err := m.Connector.Connect(ctx, tun, m.Proxy)
	if err != nil {
		m.Logger.Error("%s: %v", tun, err)
		client.Close()
		return
	}

	sess := session.New(id, tun, client, up, m.Logger)
	sess.Metrics = m.Metrics
	m.Logger.Info("opened %s", sess)

	if err := sess.Relay(ctx); err != nil {
		sess.Logger.Debug("relay: %v", err)
	}
}

// drain waits for open sessions, cancelling them once the grace period
// runs out.
func (m *ForwardMode) drain(sessions *sync.WaitGroup, kill context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		sessions.Wait()
		close(done)
	}()

	grace := m.GracePeriod
	if grace <= 0 {
		grace = config.DefaultGracePeriod
	}

	select {
	case <-done:
	case <-time.After(grace):
		m.Logger.Warn("%d session(s) still open after %s, closing", m.active.Load(), grace)
		kill()
		<-done
	}
}

func (m *ForwardMode) acceptBackoff() *retry.Backoff {
	return retry.AcceptBackoff(config.DefaultAcceptBackoff, config.DefaultAcceptBackoffMax)
}
