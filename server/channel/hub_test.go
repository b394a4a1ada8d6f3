package channel

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cosmopolite/cosmopolite/server/store/types"
)

type fakeConn struct {
	mu     sync.Mutex
	queued []string
	closed bool
	full   bool
}

func (c *fakeConn) Queue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.queued = append(c.queued, string(payload))
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queued...)
}

func TestAttachDetach(t *testing.T) {
	hub := NewHub(time.Minute)
	var connected, disconnected []string
	hub.OnConnect = func(inst string) error {
		connected = append(connected, inst)
		if inst == "rejected" {
			return types.ErrNotFound
		}
		return nil
	}
	hub.OnDisconnect = func(inst string) { disconnected = append(disconnected, inst) }

	if _, ok := hub.Instance("bogus"); ok {
		t.Error("unknown token must not resolve")
	}
	if _, err := hub.Open(""); err != types.ErrMalformed {
		t.Errorf("empty instance: expected ErrMalformed, got %v", err)
	}

	token, err := hub.Open("inst1")
	if err != nil {
		t.Fatal(err)
	}
	inst, ok := hub.Instance(token)
	if !ok || inst != "inst1" {
		t.Fatalf("Instance = %q, %v", inst, ok)
	}
	conn := &fakeConn{}
	if err := hub.Attach(inst, conn); err != nil {
		t.Fatal(err)
	}
	if !hub.Connected("inst1") || hub.Len() != 1 {
		t.Error("instance must be connected")
	}

	// A reconnect replaces the old connection.
	second := &fakeConn{}
	if err := hub.Attach(inst, second); err != nil {
		t.Fatal(err)
	}
	if !conn.closed {
		t.Error("replaced connection must be closed")
	}

	// Stale connection going away does not disconnect the instance.
	hub.Detach("inst1", conn)
	if !hub.Connected("inst1") || len(disconnected) != 0 {
		t.Error("detaching a replaced connection must be ignored")
	}
	hub.Detach("inst1", second)
	if hub.Connected("inst1") {
		t.Error("instance must be disconnected")
	}

	if err := hub.Attach("rejected", &fakeConn{}); err != types.ErrNotFound {
		t.Errorf("OnConnect error must be returned, got %v", err)
	}

	if len(connected) != 3 || len(disconnected) != 1 || disconnected[0] != "inst1" {
		t.Errorf("callbacks: connected %v, disconnected %v", connected, disconnected)
	}
}

func TestSend(t *testing.T) {
	hub := NewHub(0)
	conn := &fakeConn{}
	if err := hub.Attach("inst", conn); err != nil {
		t.Fatal(err)
	}

	if err := hub.Send("inst", []byte(`{"event_type":"logout"}`)); err != nil {
		t.Fatal(err)
	}
	if err := hub.Send("elsewhere", []byte(`{}`)); err != nil {
		t.Errorf("sending to a missing instance without relay must be a no-op, got %v", err)
	}
	conn.full = true
	if err := hub.Send("inst", []byte(`{"event_type":"close"}`)); err != nil {
		t.Errorf("full queue must drop silently, got %v", err)
	}
	if got := conn.messages(); len(got) != 1 || got[0] != `{"event_type":"logout"}` {
		t.Errorf("unexpected queued messages %v", got)
	}

	hub.Shutdown()
	if !conn.closed || hub.Len() != 0 {
		t.Error("shutdown must close connections")
	}
}

func TestTokenExpiry(t *testing.T) {
	hub := NewHub(20 * time.Millisecond)
	token, _ := hub.Open("inst")
	time.Sleep(100 * time.Millisecond)
	if _, ok := hub.Instance(token); ok {
		t.Error("expired token must not resolve")
	}
}

func TestRelayHandle(t *testing.T) {
	hub := NewHub(0)
	conn := &fakeConn{}
	hub.Attach("inst", conn)
	r := &Relay{node: "a", hub: hub}

	own, _ := json.Marshal(&relayMessage{Node: "a", Instance: "inst", Payload: json.RawMessage(`{"n":1}`)})
	other, _ := json.Marshal(&relayMessage{Node: "b", Instance: "inst", Payload: json.RawMessage(`{"n":2}`)})
	r.handle(own)
	r.handle(other)
	r.handle([]byte("garbage"))

	if got := conn.messages(); len(got) != 1 || got[0] != `{"n":2}` {
		t.Errorf("only messages from other nodes must be delivered, got %v", got)
	}
}

// Requires a redis server, e.g. COSMO_TEST_REDIS=localhost:6379.
func TestRelayRedis(t *testing.T) {
	addr := os.Getenv("COSMO_TEST_REDIS")
	if addr == "" {
		t.Skip("COSMO_TEST_REDIS is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conf := &RedisConfig{Addr: addr, Topic: "cosmopolite:test:" + time.Now().Format(time.RFC3339Nano)}
	sender, receiver := NewHub(0), NewHub(0)
	if err := sender.EnableRelay(ctx, conf, "sender"); err != nil {
		t.Fatal(err)
	}
	defer sender.Shutdown()
	if err := receiver.EnableRelay(ctx, conf, "receiver"); err != nil {
		t.Fatal(err)
	}
	defer receiver.Shutdown()

	conn := &fakeConn{}
	receiver.Attach("remote", conn)

	if err := sender.Send("remote", []byte(`{"event_type":"logout"}`)); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(conn.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := conn.messages(); len(got) != 1 {
		t.Errorf("relayed push not delivered: %v", got)
	}
}
