package connector

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/proxy"

	"ptun/config"
	"ptun/internal/transport"
	"ptun/util"
)

func init() {
	proxy.RegisterDialerType("http", fromURL)
}

// ContextDialer presents a Connector as a golang.org/x/net/proxy
// dialer, so anything that accepts a proxy.Dialer can tunnel through
// Proxy with the same fallback.
type ContextDialer struct {
	Connector *Connector
	Proxy     *config.Proxy
}

var _ proxy.ContextDialer = (*ContextDialer)(nil)

// Dial implements proxy.Dialer.
func (d *ContextDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

// DialContext implements proxy.ContextDialer.  Only TCP is supported.
func (d *ContextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("connector: unsupported network %q", network)
	}
	host, port, err := config.ParseHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("connector: %w", err)
	}
	return d.Connector.Connect(ctx, config.Tunnel{RemoteHost: host, RemotePort: port}, d.Proxy)
}

// fromURL backs proxy.FromURL for http:// proxy URLs.
func fromURL(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	p, err := config.ParseProxy(u.String())
	if err != nil {
		return nil, err
	}
	return &ContextDialer{
		Connector: New(transport.FromProxy(forward), util.NewLogger(0)),
		Proxy:     p,
	}, nil
}
