package core

import (
	"context"
	"io"
	"os"

	"ptun/config"
	"ptun/internal/connector"
	"ptun/util"
)

// StdioMode opens one tunnel and relays it over stdin/stdout, which
// makes ptun usable as an ssh ProxyCommand.
type StdioMode struct {
	Tunnel    config.Tunnel
	Proxy     *config.Proxy
	Connector *connector.Connector
	Logger    *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *StdioMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *StdioMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run connects and relays until the remote side is done.  The stream
// and dialer are closed when Run returns.
func (m *StdioMode) Run(ctx context.Context) error {
	defer m.Connector.Dialer.Close()

	s, err := m.Connector.Connect(ctx, m.Tunnel, m.Proxy)
	if err != nil {
		return err
	}
	defer s.Close()

	via := "directly"
	if s.IsProxied() {
		via = "via " + m.Proxy.Addr()
	}
	m.Logger.Verbose("connected to %s %s", m.Tunnel.RemoteAddr(), via)

	return util.BidirectionalCopy(ctx, s, m.stdin(), m.stdout())
}
