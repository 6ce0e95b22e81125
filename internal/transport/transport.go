// Package transport opens the raw sockets a tunnel is built on.  A
// Dialer only knows how to reach an address; whether that address is a
// CONNECT proxy or the destination itself is the connector's business.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer, a dialer that hops through an SSH jump host, and
// an adapter for golang.org/x/net/proxy dialers.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
