package live

import (
	"testing"
	"time"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry(time.Minute, false)
	defer registry.Stop()

	connA, _ := newSocketPair(t, "tok_a")
	connB, _ := newSocketPair(t, "tok_b")
	registry.Register("tok_a", connA)
	registry.Register("tok_b", connB)

	if got := registry.Conn("tok_a"); got != connA {
		t.Errorf("lookup tok_a: got %v want %v", got, connA)
	}
	if got := registry.Conn("tok_b"); got != connB {
		t.Errorf("lookup tok_b: got %v want %v", got, connB)
	}
	if got := registry.Conn("tok_missing"); got != nil {
		t.Errorf("lookup of unknown token: got %v want nil", got)
	}
	if registry.Len() != 2 {
		t.Errorf("got %d connections want 2", registry.Len())
	}
}

func TestRegistryUnregisterClosesConn(t *testing.T) {
	registry := NewRegistry(time.Minute, false)
	defer registry.Stop()

	conn, client := newSocketPair(t, "tok_gone")
	registry.Register("tok_gone", conn)
	registry.Unregister("tok_gone")

	if got := registry.Conn("tok_gone"); got != nil {
		t.Errorf("conn still registered after unregister")
	}
	// the server side was closed, so the client read must fail promptly
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Errorf("expected client read to fail after unregister")
	}
}

func TestRegistryIdleConnectionsExpire(t *testing.T) {
	registry := NewRegistry(50*time.Millisecond, false)
	defer registry.Stop()

	conn, client := newSocketPair(t, "tok_idle")
	registry.Register("tok_idle", conn)

	deadline := time.Now().Add(5 * time.Second)
	for registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle connection was not evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Errorf("expected client read to fail after TTL eviction")
	}
}

func TestRegistryReplacingConnectionClosesOldOne(t *testing.T) {
	registry := NewRegistry(time.Minute, false)
	defer registry.Stop()

	oldConn, oldClient := newSocketPair(t, "tok_re")
	newConn, _ := newSocketPair(t, "tok_re")
	registry.Register("tok_re", oldConn)
	registry.Register("tok_re", newConn)

	if got := registry.Conn("tok_re"); got != newConn {
		t.Errorf("lookup returned the replaced connection")
	}
	oldClient.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := oldClient.ReadMessage(); err == nil {
		t.Errorf("expected the replaced connection to be closed")
	}
}
