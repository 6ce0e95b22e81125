package transport

import (
	"context"
	"net"

	"golang.org/x/net/proxy"
)

// forwardDialer adapts a golang.org/x/net/proxy dialer.
type forwardDialer struct {
	d proxy.Dialer
}

// FromProxy wraps d as a Dialer.  Dialers that implement
// proxy.ContextDialer honour ctx; others are raced against it.
func FromProxy(d proxy.Dialer) Dialer {
	return &forwardDialer{d: d}
}

func (f *forwardDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := f.d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := f.d.Dial(network, address)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (f *forwardDialer) Close() error { return nil }
