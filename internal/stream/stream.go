// Package stream wraps an established tunnel socket in a cloneable,
// reference-counted handle.
//
// A Stream looks the same whether the socket was dialled directly or
// through a CONNECT proxy.  Handles can be cloned so that a reader and
// a writer goroutine each own one; the socket is closed when the last
// handle is closed.  Reads and writes go straight to the socket with
// no locking or buffering added.
package stream

import (
	"net"
	"sync/atomic"
	"time"

	ncerr "ptun/internal/errors"
)

// closeWriter is implemented by *net.TCPConn and by SSH channel
// connections.
type closeWriter interface {
	CloseWrite() error
}

// shared is the state common to every clone of a Stream.
type shared struct {
	conn    net.Conn
	proxied bool
	refs    atomic.Int32
}

// Stream is one owner's handle on a shared tunnel socket.
type Stream struct {
	sh       *shared
	released atomic.Bool
}

// New takes ownership of conn and returns the first handle to it.
// proxied records whether conn leads to a CONNECT proxy rather than
// to the destination itself.
func New(conn net.Conn, proxied bool) *Stream {
	sh := &shared{conn: conn, proxied: proxied}
	sh.refs.Store(1)
	return &Stream{sh: sh}
}

// Clone returns a new handle on the same socket.  Cloning a closed
// handle is a programming error and panics.
func (s *Stream) Clone() *Stream {
	if s.released.Load() {
		panic("stream: Clone of closed handle")
	}
	s.sh.refs.Add(1)
	return &Stream{sh: s.sh}
}

// IsProxied reports whether the socket was opened to a proxy.
func (s *Stream) IsProxied() bool { return s.sh.proxied }

// Refs returns the number of live handles on the socket.
func (s *Stream) Refs() int { return int(s.sh.refs.Load()) }

// Read reads from the shared socket.
func (s *Stream) Read(p []byte) (int, error) {
	if s.released.Load() {
		return 0, ncerr.ErrStreamClosed
	}
	return s.sh.conn.Read(p)
}

// Write writes to the shared socket.
func (s *Stream) Write(p []byte) (int, error) {
	if s.released.Load() {
		return 0, ncerr.ErrStreamClosed
	}
	return s.sh.conn.Write(p)
}

// CloseWrite half-closes the write direction of the socket, signalling
// EOF to the peer.  The read direction stays open for every handle.
func (s *Stream) CloseWrite() error {
	cw, ok := s.sh.conn.(closeWriter)
	if !ok {
		return ncerr.ErrHalfCloseUnsupported
	}
	return cw.CloseWrite()
}

// Close releases this handle.  The socket is closed when the last
// handle is released.  Closing a handle more than once is a no-op.
func (s *Stream) Close() error {
	if s.released.Swap(true) {
		return nil
	}
	if s.sh.refs.Add(-1) == 0 {
		return s.sh.conn.Close()
	}
	return nil
}

// LocalAddr returns the local address of the socket.
func (s *Stream) LocalAddr() net.Addr { return s.sh.conn.LocalAddr() }

// RemoteAddr returns the address the socket is connected to: the proxy
// when IsProxied, otherwise the destination.
func (s *Stream) RemoteAddr() net.Addr { return s.sh.conn.RemoteAddr() }

// SetDeadline is [net.Conn.SetDeadline] on the shared socket.
func (s *Stream) SetDeadline(t time.Time) error { return s.sh.conn.SetDeadline(t) }

// SetReadDeadline is [net.Conn.SetReadDeadline] on the shared socket.
func (s *Stream) SetReadDeadline(t time.Time) error { return s.sh.conn.SetReadDeadline(t) }

// SetWriteDeadline is [net.Conn.SetWriteDeadline] on the shared socket.
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.sh.conn.SetWriteDeadline(t) }

var _ net.Conn = (*Stream)(nil)
