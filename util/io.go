package util

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// DefaultBufSize is the standard buffer size for network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// closeWriter is implemented by *net.TCPConn, SSH channel connections
// and *stream.Stream.
type closeWriter interface {
	CloseWrite() error
}

// CloseWrite half-closes c when it supports it and reports whether it
// did.
func CloseWrite(c interface{}) bool {
	cw, ok := c.(closeWriter)
	if !ok {
		return false
	}
	return cw.CloseWrite() == nil
}

// CopyBuffer is io.CopyBuffer with a buffer from [BufPool].
func CopyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// BidirectionalCopy shuffles data between a network connection and an
// arbitrary reader/writer pair (typically stdin/stdout) until the remote
// side is done or the context is cancelled.  When r reaches EOF first
// the connection is half-closed and the remote's reply is drained.  It
// returns as soon as the remote finishes, without waiting on r.
func BidirectionalCopy(ctx context.Context, conn net.Conn, r io.Reader, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	down := make(chan error, 1)
	go func() {
		_, err := CopyBuffer(w, conn)
		down <- err
	}()

	up := make(chan error, 1)
	go func() {
		_, err := CopyBuffer(conn, r)
		// Without half-close support the only EOF signal left is
		// tearing the connection down.
		if err == nil && !CloseWrite(conn) {
			conn.Close()
		}
		up <- err
	}()

	var errs []error
	select {
	case err := <-down:
		errs = append(errs, err)
	case err := <-up:
		if err != nil {
			conn.Close()
		}
		errs = append(errs, err, <-down)
	}

	for _, err := range errs {
		if !IsHarmless(err) {
			return err
		}
	}
	return nil
}

// Relay splices client to an upstream connection held as separate read
// and write handles, which may be the same connection.  Each direction
// half-closes its destination when its source reaches EOF; an error in
// either direction or cancellation of ctx tears everything down.  All
// three connections are closed on return.  in counts upstream→client
// bytes, out client→upstream.
func Relay(ctx context.Context, client, upR, upW net.Conn) (in, out int64, err error) {
	teardown := func() {
		client.Close()
		upR.Close()
		upW.Close()
	}
	stop := context.AfterFunc(ctx, teardown)
	defer stop()
	defer teardown()

	var wg sync.WaitGroup
	var inErr, outErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		out, outErr = CopyBuffer(upW, client)
		if outErr != nil || !CloseWrite(upW) {
			teardown()
		}
	}()
	go func() {
		defer wg.Done()
		in, inErr = CopyBuffer(client, upR)
		if inErr != nil || !CloseWrite(client) {
			teardown()
		}
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return in, out, ctx.Err()
	}
	for _, e := range []error{outErr, inErr} {
		if !IsHarmless(e) {
			return in, out, e
		}
	}
	return in, out, nil
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
