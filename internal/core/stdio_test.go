package core

import (
	"bytes"
	"context"
	"testing"
	"time"

	"ptun/config"
	"ptun/internal/connector"
	"ptun/internal/transport"
	"ptun/util"
)

func TestStdioMode_Direct(t *testing.T) {
	host, port := startEcho(t)

	output := &bytes.Buffer{}
	m := &StdioMode{
		Tunnel:    config.Tunnel{RemoteHost: host, RemotePort: port},
		Connector: connector.New(&transport.TCPDialer{Timeout: 2 * time.Second}, util.NewLogger(0)),
		Logger:    util.NewLogger(0),
		Stdin:     bytes.NewBufferString("SSH-2.0-test\r\n"),
		Stdout:    output,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := output.String(); got != "SSH-2.0-test\r\n" {
		t.Errorf("output = %q", got)
	}
}

func TestStdioMode_ViaProxy(t *testing.T) {
	proxy, reqs := startEchoProxy(t)

	output := &bytes.Buffer{}
	m := &StdioMode{
		Tunnel:    config.Tunnel{RemoteHost: "git.internal", RemotePort: 22},
		Proxy:     proxy,
		Connector: connector.New(&transport.TCPDialer{Timeout: 2 * time.Second}, util.NewLogger(0)),
		Logger:    util.NewLogger(0),
		Stdin:     bytes.NewBufferString("hello"),
		Stdout:    output,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := <-reqs; got != "CONNECT git.internal:22 HTTP/1.1\r\n\r\n" {
		t.Errorf("proxy saw %q", got)
	}
	if output.String() != "hello" {
		t.Errorf("output = %q", output.String())
	}
}

func TestStdioMode_ConnectError(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	m := &StdioMode{
		Tunnel:    config.Tunnel{RemoteHost: "127.0.0.1", RemotePort: port},
		Connector: connector.New(&transport.TCPDialer{Timeout: time.Second}, util.NewLogger(0)),
		Logger:    util.NewLogger(0),
		Stdin:     &bytes.Buffer{},
		Stdout:    &bytes.Buffer{},
	}
	if err := m.Run(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
}
