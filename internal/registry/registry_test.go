package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// fakeConn records frames written to it and can be told to fail.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	closed   bool
	writeErr error
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.PingMessage {
		c.pings++
		return nil
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) lastFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func TestRegisterUnregister(t *testing.T) {
	r := New()
	conn := &fakeConn{}

	r.Register(conn, "u1")
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}

	client := r.Unregister(conn)
	if client == nil || client.UserID() != "u1" {
		t.Fatalf("Unregister returned %+v, want client for u1", client)
	}
	if r.Count() != 0 {
		t.Fatalf("Count = %d after unregister, want 0", r.Count())
	}

	if r.Unregister(conn) != nil {
		t.Fatal("second Unregister must return nil")
	}
}

func TestJoinLeaveIdempotent(t *testing.T) {
	r := New()
	conn := &fakeConn{}
	r.Register(conn, "u1")

	r.Join(conn, "room1")
	r.Join(conn, "room1")
	if rooms := r.Rooms(conn); len(rooms) != 1 || rooms[0] != "room1" {
		t.Fatalf("Rooms = %v, want [room1]", rooms)
	}

	r.Leave(conn, "room1")
	r.Leave(conn, "room1")
	if rooms := r.Rooms(conn); len(rooms) != 0 {
		t.Fatalf("Rooms = %v after leave, want empty", rooms)
	}

	// Never-registered connections are a no-op.
	r.Join(&fakeConn{}, "room1")
	if r.Occupied("room1") {
		t.Fatal("unregistered conn counted as a room member")
	}
}

func TestBroadcastTargetsRoomMembersOnly(t *testing.T) {
	r := New()
	inRoom1 := &fakeConn{}
	inRoom2 := &fakeConn{}
	inBoth := &fakeConn{}
	outside := &fakeConn{}

	r.Register(inRoom1, "a")
	r.Register(inRoom2, "b")
	r.Register(inBoth, "c")
	r.Register(outside, "d")
	r.Join(inRoom1, "room1")
	r.Join(inRoom2, "room2")
	r.Join(inBoth, "room1")
	r.Join(inBoth, "room2")

	r.Broadcast("room1", map[string]string{"type": "update"})

	if inRoom1.frameCount() != 1 || inBoth.frameCount() != 1 {
		t.Fatalf("room1 members got %d/%d frames, want 1/1", inRoom1.frameCount(), inBoth.frameCount())
	}
	if inRoom2.frameCount() != 0 || outside.frameCount() != 0 {
		t.Fatal("broadcast leaked outside the room")
	}

	var decoded map[string]string
	if err := json.Unmarshal(inRoom1.lastFrame(), &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if decoded["type"] != "update" {
		t.Fatalf("frame = %v", decoded)
	}
}

func TestBroadcastSkipsFailedWrites(t *testing.T) {
	r := New()
	broken := &fakeConn{writeErr: errors.New("half-closed")}
	healthy := &fakeConn{}
	r.Register(broken, "a")
	r.Register(healthy, "b")
	r.Join(broken, "room1")
	r.Join(healthy, "room1")

	r.Broadcast("room1", map[string]string{"type": "delete"})

	if healthy.frameCount() != 1 {
		t.Fatal("one broken socket blocked delivery to the rest")
	}
}

func TestOccupied(t *testing.T) {
	r := New()
	conn := &fakeConn{}
	r.Register(conn, "u1")

	if r.Occupied("room1") {
		t.Fatal("empty room reported occupied")
	}
	r.Join(conn, "room1")
	if !r.Occupied("room1") {
		t.Fatal("joined room reported empty")
	}
	r.Leave(conn, "room1")
	if r.Occupied("room1") {
		t.Fatal("left room still reported occupied")
	}
}

func TestSendSingleTarget(t *testing.T) {
	r := New()
	target := &fakeConn{}
	other := &fakeConn{}
	r.Register(target, "a")
	r.Register(other, "b")

	if err := r.Send(target, map[string]string{"type": "room_state"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if target.frameCount() != 1 || other.frameCount() != 0 {
		t.Fatalf("frames %d/%d, want 1/0", target.frameCount(), other.frameCount())
	}
}

func TestSweepEvictsStaleAndPingsAlive(t *testing.T) {
	r := New()
	stale := &fakeConn{}
	alive := &fakeConn{}
	r.Register(stale, "gone")
	r.Register(alive, "here")
	r.Join(stale, "room1")

	// Age the stale client's liveness past the timeout.
	staleClient := r.lookup(stale)
	staleClient.mu.Lock()
	staleClient.lastPong = time.Now().Add(-time.Minute)
	staleClient.mu.Unlock()

	evicted := r.Sweep(30 * time.Second)

	if len(evicted) != 1 || evicted[0].UserID() != "gone" {
		t.Fatalf("evicted = %v, want the stale client only", evicted)
	}
	if rooms := evicted[0].Rooms(); len(rooms) != 1 || rooms[0] != "room1" {
		t.Fatalf("evicted client rooms = %v, want [room1]", rooms)
	}

	stale.mu.Lock()
	closed := stale.closed
	stale.mu.Unlock()
	if !closed {
		t.Fatal("stale connection not force-closed")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d after sweep, want 1", r.Count())
	}

	alive.mu.Lock()
	pings := alive.pings
	alive.mu.Unlock()
	if pings != 1 {
		t.Fatalf("alive client got %d pings, want 1", pings)
	}
}

func TestTouchRefreshesLiveness(t *testing.T) {
	r := New()
	conn := &fakeConn{}
	r.Register(conn, "u1")

	client := r.lookup(conn)
	client.mu.Lock()
	client.lastPong = time.Now().Add(-time.Minute)
	client.mu.Unlock()

	r.Touch(conn)

	if evicted := r.Sweep(30 * time.Second); len(evicted) != 0 {
		t.Fatal("touched client was swept as stale")
	}
}
