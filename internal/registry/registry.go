package registry

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Conn is the slice of the websocket connection the registry needs. The
// production value is *websocket.Conn; tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client 등록된 연결 한 개
type Client struct {
	conn     Conn
	userID   string
	writeMu  sync.Mutex
	mu       sync.Mutex
	rooms    map[string]struct{}
	lastPong time.Time
}

func (c *Client) UserID() string { return c.userID }

// Rooms returns a copy of the client's joined-room set.
func (c *Client) Rooms() []string { return c.joinedRooms() }

// write serializes writes to the underlying conn; concurrent fanout and
// heartbeat probes share the same socket.
func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// joinedRooms copies the room set.
func (c *Client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

func (c *Client) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Registry 라이브 연결 추적 + 방 단위 브로드캐스트
type Registry struct {
	mu      sync.RWMutex
	clients map[Conn]*Client
}

func New() *Registry {
	return &Registry{clients: make(map[Conn]*Client)}
}

// Register adds an authenticated connection to the live set.
func (r *Registry) Register(conn Conn, userID string) *Client {
	client := &Client{
		conn:     conn,
		userID:   userID,
		rooms:    make(map[string]struct{}),
		lastPong: time.Now(),
	}
	r.mu.Lock()
	r.clients[conn] = client
	r.mu.Unlock()
	log.Printf("[Registry] Registered connection for user %s (total: %d)", userID, r.Count())
	return client
}

// Unregister removes the connection and returns its record (nil when the
// heartbeat sweep already removed it), so the caller can drain emptied rooms.
func (r *Registry) Unregister(conn Conn) *Client {
	r.mu.Lock()
	client, ok := r.clients[conn]
	if ok {
		delete(r.clients, conn)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	log.Printf("[Registry] Unregistered connection for user %s (total: %d)", client.userID, r.Count())
	return client
}

func (r *Registry) lookup(conn Conn) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[conn]
}

// Join 방 멤버십 추가 (idempotent)
func (r *Registry) Join(conn Conn, roomID string) {
	if client := r.lookup(conn); client != nil {
		client.mu.Lock()
		client.rooms[roomID] = struct{}{}
		client.mu.Unlock()
	}
}

// Leave 방 멤버십 제거 (idempotent)
func (r *Registry) Leave(conn Conn, roomID string) {
	if client := r.lookup(conn); client != nil {
		client.mu.Lock()
		delete(client.rooms, roomID)
		client.mu.Unlock()
	}
}

// Rooms returns the rooms the connection has joined.
func (r *Registry) Rooms(conn Conn) []string {
	client := r.lookup(conn)
	if client == nil {
		return nil
	}
	return client.joinedRooms()
}

// Occupied reports whether any live connection is joined to roomID.
func (r *Registry) Occupied(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, client := range r.clients {
		if client.inRoom(roomID) {
			return true
		}
	}
	return false
}

// Touch records connection liveness (pong handler).
func (r *Registry) Touch(conn Conn) {
	if client := r.lookup(conn); client != nil {
		client.mu.Lock()
		client.lastPong = time.Now()
		client.mu.Unlock()
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast serializes payload once and delivers it to every connection
// joined to roomID, including the originator. A failed send is logged and
// skipped; one half-closed socket never blocks delivery to the rest.
func (r *Registry) Broadcast(roomID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Registry] Failed to marshal broadcast for room %s: %v", roomID, err)
		return
	}

	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if client.inRoom(roomID) {
			targets = append(targets, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(websocket.TextMessage, data); err != nil {
			log.Printf("[Registry] Send to user %s failed (room %s): %v", client.userID, roomID, err)
		}
	}
}

// Send delivers a payload to a single connection (room_state and error
// replies go to the requester only).
func (r *Registry) Send(conn Conn, payload any) error {
	client := r.lookup(conn)
	if client == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return client.write(websocket.TextMessage, data)
}

// Sweep force-closes and unregisters connections whose liveness is older
// than timeout and pings the rest. Returns the evicted clients so the caller
// can drain rooms they left empty. Never takes room locks.
func (r *Registry) Sweep(timeout time.Duration) []*Client {
	now := time.Now()

	r.mu.Lock()
	var stale []*Client
	var alive []*Client
	for conn, client := range r.clients {
		client.mu.Lock()
		expired := now.Sub(client.lastPong) > timeout
		client.mu.Unlock()
		if expired {
			stale = append(stale, client)
			delete(r.clients, conn)
		} else {
			alive = append(alive, client)
		}
	}
	r.mu.Unlock()

	for _, client := range stale {
		log.Printf("[Registry] Closing stale connection for user %s", client.userID)
		_ = client.conn.Close()
	}
	for _, client := range alive {
		if err := client.write(websocket.PingMessage, nil); err != nil {
			log.Printf("[Registry] Ping to user %s failed: %v", client.userID, err)
		}
	}
	return stale
}

// RunHeartbeat sweeps on a fixed interval until ctx is done. onStale runs for
// every evicted client, with the rooms it had joined.
func (r *Registry) RunHeartbeat(ctx context.Context, interval, timeout time.Duration, onStale func(client *Client, rooms []string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, client := range r.Sweep(timeout) {
				if onStale != nil {
					onStale(client, client.joinedRooms())
				}
			}
		}
	}
}
