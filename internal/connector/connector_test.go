package connector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/proxy"

	"ptun/config"
	ncerr "ptun/internal/errors"
	"ptun/internal/metrics"
	"ptun/internal/retry"
	"ptun/internal/transport"
	"ptun/util"
)

var target = config.Tunnel{RemoteHost: "example.com", RemotePort: 443}

// fakeProxy accepts one connection, records the request up to the
// blank line, writes reply and then holds the connection open until
// the client goes away.
type fakeProxy struct {
	ln  net.Listener
	req chan []byte
}

func startProxy(t *testing.T, reply string) *fakeProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	p := &fakeProxy{ln: ln, req: make(chan []byte, 1)}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		var got []byte
		b := make([]byte, 1)
		for !bytes.HasSuffix(got, []byte("\r\n\r\n")) && len(got) < 4096 {
			if _, err := c.Read(b); err != nil {
				break
			}
			got = append(got, b[0])
		}
		p.req <- got

		if reply != "" {
			c.Write([]byte(reply)) //nolint:errcheck
		}
		io.Copy(io.Discard, c) //nolint:errcheck
	}()
	return p
}

func (p *fakeProxy) config() *config.Proxy {
	addr := p.ln.Addr().(*net.TCPAddr)
	return &config.Proxy{Host: "127.0.0.1", Port: uint16(addr.Port)}
}

func (p *fakeProxy) request(t *testing.T) string {
	t.Helper()
	select {
	case r := <-p.req:
		return string(r)
	case <-time.After(2 * time.Second):
		t.Fatal("proxy never received a request")
		return ""
	}
}

// startTarget accepts one connection and reports the first bytes the
// client sends, or "" if it closes without sending.
func startTarget(t *testing.T) (config.Tunnel, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	first := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 256)
		n, _ := c.Read(buf)
		first <- string(buf[:n])
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	return config.Tunnel{RemoteHost: "127.0.0.1", RemotePort: uint16(port)}, first
}

// closedProxy returns a proxy address nothing listens on.
func closedProxy(t *testing.T) *config.Proxy {
	t.Helper()
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	return &config.Proxy{Host: "127.0.0.1", Port: port}
}

// countingDialer records every address dialled.
type countingDialer struct {
	transport.TCPDialer
	mu    sync.Mutex
	addrs []string
}

func (d *countingDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, address)
	d.mu.Unlock()
	return d.TCPDialer.Dial(ctx, network, address)
}

func (d *countingDialer) dialled() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

func newTestConnector(logOut io.Writer) (*Connector, *countingDialer) {
	logger := util.NewLogger(3)
	logger.SetTimestamps(false)
	if logOut == nil {
		logOut = io.Discard
	}
	logger.SetOutput(logOut)

	d := &countingDialer{}
	c := New(d, logger)
	c.Metrics = metrics.New()
	return c, d
}

func TestConnect_Direct(t *testing.T) {
	tun, first := startTarget(t)
	var logs bytes.Buffer
	c, d := newTestConnector(&logs)

	s, err := c.Connect(context.Background(), tun, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if s.IsProxied() {
		t.Fatal("direct stream reports proxied")
	}
	if _, err := s.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if got := <-first; got != "ping" {
		t.Fatalf("target first bytes = %q, want %q", got, "ping")
	}
	if got := d.dialled(); len(got) != 1 || got[0] != tun.RemoteAddr() {
		t.Fatalf("dialled %v", got)
	}
	if !strings.Contains(logs.String(), "[DBG] connecting directly to "+tun.RemoteAddr()) {
		t.Errorf("missing debug log, got:\n%s", logs.String())
	}
	if c.Metrics.DirectConnects() != 1 {
		t.Errorf("DirectConnects = %d", c.Metrics.DirectConnects())
	}
}

func TestConnect_ProxiedWithPayload(t *testing.T) {
	p := startProxy(t, "HTTP/1.1 200 Connection established\r\nVia: test\r\n\r\nPAYLOAD")
	var logs bytes.Buffer
	c, _ := newTestConnector(&logs)

	s, err := c.Connect(context.Background(), target, p.config())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if !s.IsProxied() {
		t.Fatal("stream should be proxied")
	}
	if got, want := p.request(t), "CONNECT example.com:443 HTTP/1.1\r\n\r\n"; got != want {
		t.Fatalf("request = %q, want %q", got, want)
	}

	buf := make([]byte, len("PAYLOAD"))
	s.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(buf) != "PAYLOAD" {
		t.Fatalf("payload = %q", buf)
	}
	if !strings.Contains(logs.String(), "[DBG] connecting via proxy "+p.config().Addr()) {
		t.Errorf("missing debug log, got:\n%s", logs.String())
	}
	if c.Metrics.ProxiedConnects() != 1 {
		t.Errorf("ProxiedConnects = %d", c.Metrics.ProxiedConnects())
	}
}

func TestConnect_ProxyRejects(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"not found", "HTTP/1.1 404 Not Found\r\n\r\n", ncerr.ErrStatusNotSuccess},
		{"not a number", "HTTP/1.1 abc\r\n\r\n", ncerr.ErrStatusNotNumber},
		{"lone cr", "HTTP/1.1 200 OK\rX", ncerr.ErrEndOfLine},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := startProxy(t, tc.reply)
			c, d := newTestConnector(nil)

			s, err := c.Connect(context.Background(), target, p.config())
			if s != nil {
				t.Fatal("stream returned on failure")
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var ne *ncerr.NetworkError
			if !errors.As(err, &ne) || ne.Op != "handshake" {
				t.Fatalf("err = %#v, want handshake NetworkError", err)
			}
			// A protocol failure never falls back.
			if got := d.dialled(); len(got) != 1 {
				t.Fatalf("dialled %v, want the proxy only", got)
			}
			if c.Metrics.ErrorCount() != 1 {
				t.Errorf("ErrorCount = %d", c.Metrics.ErrorCount())
			}
		})
	}
}

func TestConnect_ProxyHangsUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	c, _ := newTestConnector(nil)
	port := ln.Addr().(*net.TCPAddr).Port
	_, err = c.Connect(context.Background(), target, &config.Proxy{Host: "127.0.0.1", Port: uint16(port)})
	if err == nil {
		t.Fatal("expected error when the proxy hangs up")
	}
}

func TestConnect_FallbackToDirect(t *testing.T) {
	tun, first := startTarget(t)
	prx := closedProxy(t)
	var logs bytes.Buffer
	c, d := newTestConnector(&logs)

	s, err := c.Connect(context.Background(), tun, prx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.IsProxied() {
		t.Fatal("fallback stream reports proxied")
	}

	// The target must see no CONNECT bytes: closing without writing
	// leaves its first read empty.
	s.Close()
	if got := <-first; got != "" {
		t.Fatalf("target received %q", got)
	}

	if got := d.dialled(); len(got) != 2 || got[0] != prx.Addr() || got[1] != tun.RemoteAddr() {
		t.Fatalf("dialled %v", got)
	}
	if !strings.Contains(logs.String(), "[WRN] proxy connection failed") {
		t.Errorf("missing fallback warning, got:\n%s", logs.String())
	}
	if c.Metrics.ProxyFallbacks() != 1 || c.Metrics.DirectConnects() != 1 {
		t.Errorf("fallbacks = %d, direct = %d", c.Metrics.ProxyFallbacks(), c.Metrics.DirectConnects())
	}
}

func TestConnect_FallbackFails(t *testing.T) {
	prx := closedProxy(t)
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	tun := config.Tunnel{RemoteHost: "127.0.0.1", RemotePort: port}
	c, d := newTestConnector(nil)

	_, err = c.Connect(context.Background(), tun, prx)
	var ne *ncerr.NetworkError
	if !errors.As(err, &ne) || ne.Op != "dial" || ne.Addr != tun.RemoteAddr() {
		t.Fatalf("err = %v, want dial error for %s", err, tun.RemoteAddr())
	}
	// Exactly one fallback, never a second proxy try.
	if got := d.dialled(); len(got) != 2 {
		t.Fatalf("dialled %v, want proxy then target", got)
	}
}

func TestConnect_CancelDuringHandshake(t *testing.T) {
	p := startProxy(t, "") // accepts, never answers
	c, _ := newTestConnector(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Connect(ctx, target, p.config())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancellation did not interrupt the handshake")
	}
}

func TestConnect_BreakerSkipsProxy(t *testing.T) {
	prx := closedProxy(t)
	c, d := newTestConnector(nil)
	c.Breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Minute,
	})

	for i := 0; i < 2; i++ {
		tun, _ := startTarget(t)
		s, err := c.Connect(context.Background(), tun, prx)
		if err != nil {
			t.Fatalf("Connect %d: %v", i, err)
		}
		s.Close()
	}

	// First connect tried the proxy and opened the circuit; the second
	// went straight to the target.
	got := d.dialled()
	if len(got) != 3 || got[0] != prx.Addr() || got[2] == prx.Addr() {
		t.Fatalf("dialled %v", got)
	}
	if c.Breaker.CurrentState() != retry.StateOpen {
		t.Fatalf("breaker state = %s", c.Breaker.CurrentState())
	}
	if c.Metrics.ProxyFallbacks() != 2 {
		t.Fatalf("ProxyFallbacks = %d", c.Metrics.ProxyFallbacks())
	}
}

func TestConnectRequest(t *testing.T) {
	got := string(connectRequest(config.Tunnel{RemoteHost: "db.internal", RemotePort: 5432}))
	if got != "CONNECT db.internal:5432 HTTP/1.1\r\n\r\n" {
		t.Fatalf("got %q", got)
	}
}

// shortWriter accepts at most two bytes per Write.
type shortWriter struct{ bytes.Buffer }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 2 {
		p = p[:2]
	}
	return w.Buffer.Write(p)
}

type countWriter struct{ calls int }

func (w *countWriter) Write(p []byte) (int, error) {
	w.calls++
	return len(p), nil
}

func TestWriteAll(t *testing.T) {
	var w shortWriter
	if err := writeAll(&w, []byte("CONNECT x:1 HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	if w.String() != "CONNECT x:1 HTTP/1.1\r\n\r\n" {
		t.Fatalf("wrote %q", w.String())
	}

	var cw countWriter
	if err := writeAll(&cw, nil); err != nil {
		t.Fatal(err)
	}
	if cw.calls != 0 {
		t.Fatalf("empty write did %d calls", cw.calls)
	}
}

func TestContextDialer_FromURL(t *testing.T) {
	p := startProxy(t, "HTTP/1.1 200 OK\r\n\r\n")
	u, err := url.Parse("http://" + p.config().Addr())
	if err != nil {
		t.Fatal(err)
	}

	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	conn, err := d.Dial("tcp", "example.com:443")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if got := p.request(t); got != "CONNECT example.com:443 HTTP/1.1\r\n\r\n" {
		t.Fatalf("request = %q", got)
	}
}

func TestContextDialer_Rejects(t *testing.T) {
	c, _ := newTestConnector(nil)
	d := &ContextDialer{Connector: c}

	if _, err := d.Dial("udp", "example.com:53"); err == nil {
		t.Error("udp should be rejected")
	}
	if _, err := d.Dial("tcp", "no-port"); err == nil {
		t.Error("address without port should be rejected")
	}
}
