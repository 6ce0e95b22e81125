package metrics

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total = %d, want 2", c.TotalSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Bytes(t *testing.T) {
	c := New()

	c.BytesReceived(1024)
	c.BytesSent(512)
	c.BytesReceived(100)

	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
}

func TestCollector_Paths(t *testing.T) {
	c := New()

	c.Connected(true)
	c.Connected(false)
	c.Connected(false)
	c.ProxyFallback()

	if c.ProxiedConnects() != 1 {
		t.Errorf("proxied = %d, want 1", c.ProxiedConnects())
	}
	if c.DirectConnects() != 2 {
		t.Errorf("direct = %d, want 2", c.DirectConnects())
	}
	if c.ProxyFallbacks() != 1 {
		t.Errorf("fallbacks = %d, want 1", c.ProxyFallbacks())
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.SessionOpened()
			c.BytesSent(10)
			c.SessionClosed()
		}()
	}
	wg.Wait()

	if c.TotalSessions() != 50 || c.ActiveSessions() != 0 {
		t.Errorf("total = %d active = %d", c.TotalSessions(), c.ActiveSessions())
	}
	if c.TotalBytesOut() != 500 {
		t.Errorf("bytes out = %d, want 500", c.TotalBytesOut())
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.BytesReceived(100)
	c.Connected(true)
	c.RecordError("handshake squid:3128: invalid end of line")

	snap := c.Snapshot()
	if snap.SessionsActive != 1 {
		t.Errorf("snap active = %d", snap.SessionsActive)
	}
	if snap.BytesIn != 100 {
		t.Errorf("snap bytes in = %d", snap.BytesIn)
	}
	if snap.ProxiedConnects != 1 {
		t.Errorf("snap proxied = %d", snap.ProxiedConnects)
	}
	if snap.ErrorsTotal != 1 || snap.LastError == "" {
		t.Errorf("snap errors = %d last = %q", snap.ErrorsTotal, snap.LastError)
	}
	if snap.LastErrorMessage != "handshake squid:3128: invalid end of line" {
		t.Errorf("snap error msg = %q", snap.LastErrorMessage)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.BytesSent(42)
	c.ProxyFallback()

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.BytesOut != 42 {
		t.Errorf("JSON bytes out = %d", snap.BytesOut)
	}
	if snap.ProxyFallbacks != 1 {
		t.Errorf("JSON fallbacks = %d", snap.ProxyFallbacks)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	c.SessionOpened()
	c.SessionClosed()
	c.BytesReceived(100)
	c.BytesSent(100)
	c.Connected(true)
	c.ProxyFallback()
	c.RecordError("test")

	if c.ActiveSessions() != 0 || c.TotalBytesIn() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.ProxyFallbacks() != 0 {
		t.Error("nil collector should return 0")
	}
	if snap := c.Snapshot(); snap.SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
