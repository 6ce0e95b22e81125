package session

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"ptun/config"
	"ptun/internal/metrics"
	"ptun/internal/stream"
	"ptun/util"
)

func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server := <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		dialed.Close()
		server.Close()
	})
	return dialed.(*net.TCPConn), server.(*net.TCPConn)
}

func TestSession_Relay(t *testing.T) {
	user, clientSide := tcpPair(t)
	upConn, remote := tcpPair(t)

	go func() {
		io.Copy(remote, remote) //nolint:errcheck
		remote.CloseWrite()
	}()

	var logs bytes.Buffer
	logger := util.NewLogger(2)
	logger.SetOutput(&logs)

	tun := config.Tunnel{Name: "db", RemoteHost: "db.internal", RemotePort: 5432}
	up := stream.New(upConn, true)
	s := New(7, tun, clientSide, up, logger)
	s.Metrics = metrics.New()

	done := make(chan error, 1)
	go func() { done <- s.Relay(context.Background()) }()

	user.Write([]byte("select 1;")) //nolint:errcheck
	user.CloseWrite()
	got, err := io.ReadAll(user)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "select 1;" {
		t.Fatalf("got %q", got)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Relay: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Relay did not return")
	}

	if up.Refs() != 0 {
		t.Errorf("upstream refs = %d after relay, want 0", up.Refs())
	}
	snap := s.Metrics.Snapshot()
	if snap.SessionsTotal != 1 || snap.SessionsActive != 0 {
		t.Errorf("sessions total=%d active=%d", snap.SessionsTotal, snap.SessionsActive)
	}
	if snap.BytesIn != 9 || snap.BytesOut != 9 {
		t.Errorf("bytes in=%d out=%d, want 9/9", snap.BytesIn, snap.BytesOut)
	}
	if !strings.Contains(logs.String(), "db#7: closed after") {
		t.Errorf("missing close log, got:\n%s", logs.String())
	}
}

func TestSession_String(t *testing.T) {
	_, clientSide := tcpPair(t)
	upConn, _ := tcpPair(t)

	tun := config.Tunnel{Name: "web", RemoteHost: "10.0.0.5", RemotePort: 80}
	s := New(1, tun, clientSide, stream.New(upConn, false), util.NewLogger(0))
	got := s.String()
	if !strings.HasPrefix(got, "web#1 ") || !strings.HasSuffix(got, "-> 10.0.0.5:80 (direct)") {
		t.Errorf("String() = %q", got)
	}
}
