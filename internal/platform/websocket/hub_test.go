package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn implements Conn with recorded writes and a controllable reader.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	readErr chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{readErr: make(chan error, 1)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, <-f.readErr
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	client := NewClient("metrics:center-1", newFakeConn())

	hub.Register(client)
	if got := hub.TopicCount("metrics:center-1"); got != 1 {
		t.Errorf("topic count = %d, want 1", got)
	}

	hub.Unregister(client)
	if got := hub.TopicCount("metrics:center-1"); got != 0 {
		t.Errorf("topic count after unregister = %d, want 0", got)
	}

	// closing is signalled through the Send channel
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel closed")
	}
}

func TestHubUnregister_Idempotent(t *testing.T) {
	hub := NewHub()
	client := NewClient("metrics:center-1", newFakeConn())

	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client) // must not close twice or panic

	stranger := NewClient("metrics:center-2", newFakeConn())
	hub.Unregister(stranger) // never registered
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	c1 := NewClient("metrics:center-1", newFakeConn())
	c2 := NewClient("metrics:center-1", newFakeConn())
	other := NewClient("metrics:center-2", newFakeConn())
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(other)

	hub.Broadcast("metrics:center-1", []byte("snapshot"))

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			if string(msg) != "snapshot" {
				t.Errorf("payload = %q", msg)
			}
		default:
			t.Error("expected payload in send buffer")
		}
	}
	select {
	case <-other.Send:
		t.Error("other topic must not receive the broadcast")
	default:
	}
}

func TestHubBroadcast_FullBufferSkipped(t *testing.T) {
	hub := NewHub()
	client := NewClient("metrics:center-1", newFakeConn())
	hub.Register(client)

	for i := 0; i < sendBuffer+5; i++ {
		hub.Broadcast("metrics:center-1", []byte("x"))
	}
	if got := len(client.Send); got != sendBuffer {
		t.Errorf("buffered = %d, want %d (overflow dropped)", got, sendBuffer)
	}
}

func TestClientWritePump(t *testing.T) {
	conn := newFakeConn()
	client := NewClient("metrics:center-1", conn)

	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()

	client.Send <- []byte("one")
	client.Send <- []byte("two")
	close(client.Send)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not exit after channel close")
	}
	if conn.writeCount() != 2 {
		t.Errorf("writes = %d, want 2", conn.writeCount())
	}
	if !conn.closed {
		t.Error("expected connection closed")
	}
}

func TestClientReadPump_ExitsOnError(t *testing.T) {
	conn := newFakeConn()
	client := NewClient("metrics:center-1", conn)

	done := make(chan struct{})
	go func() {
		client.ReadPump()
		close(done)
	}()

	conn.readErr <- errors.New("peer gone")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump did not exit on read error")
	}
}
