package handler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/registry"
	"whiteboard-backend/internal/room"
)

const opTimeout = 10 * time.Second

// BoardWSHandler 화이트보드 동기화 WebSocket 핸들러
//
// The protocol state machine: a connection arrives authenticated (the
// upgrade route rejects bad tokens before this handler runs), joins any
// number of rooms, and every room-scoped mutation is serialized through the
// room store's per-room lock. A mutation accepted by the store completes and
// broadcasts even if the originating socket has since closed.
type BoardWSHandler struct {
	store    *room.Store
	registry *registry.Registry
	presence *presence.Manager // nil when Redis is not configured
}

func NewBoardWSHandler(store *room.Store, reg *registry.Registry, pres *presence.Manager) *BoardWSHandler {
	return &BoardWSHandler{store: store, registry: reg, presence: pres}
}

// HandleWebSocket WebSocket 연결 처리 (인증은 업그레이드 단계에서 완료)
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok := c.Locals("userId").(string)
	if !ok || userID == "" {
		c.Close()
		return
	}

	h.registry.Register(c, userID)
	c.SetPongHandler(func(string) error {
		h.registry.Touch(c)
		return nil
	})

	defer h.cleanup(c, userID)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Schema violation: drop the frame, keep the connection.
			continue
		}
		h.Dispatch(c, userID, msg)
	}
}

// cleanup unregisters the connection and drains rooms it left empty. The
// registry may have evicted the client already via the heartbeat sweep.
func (h *BoardWSHandler) cleanup(conn registry.Conn, userID string) {
	client := h.registry.Unregister(conn)
	if client == nil {
		return
	}
	h.DrainAbandoned(userID, client.Rooms())
}

// DrainAbandoned drains every listed room that no longer has a live member.
// Also invoked by the heartbeat sweep for force-closed connections.
func (h *BoardWSHandler) DrainAbandoned(userID string, rooms []string) {
	for _, roomID := range rooms {
		h.leavePresence(roomID, userID)
		if !h.registry.Occupied(roomID) {
			h.store.DrainWithRetry(roomID, userID, h.registry.Occupied)
		}
	}
}

// Dispatch routes one inbound frame. Exported for protocol-level tests.
func (h *BoardWSHandler) Dispatch(conn registry.Conn, userID string, msg InboundMessage) {
	if msg.RoomID == "" {
		return
	}

	switch msg.Type {
	case MsgJoinRoom:
		h.handleJoin(conn, userID, msg.RoomID)
	case MsgLeaveRoom:
		h.handleLeave(conn, userID, msg.RoomID)
	case MsgCreateShape, MsgCreateAlias:
		h.handleCreate(userID, msg)
	case MsgUpdateShape, MsgUpdateAlias:
		h.handleUpdate(msg)
	case MsgDeleteShape, MsgDeleteAlias:
		h.handleDelete(msg)
	case MsgReorder:
		h.handleReorder(msg)
	case MsgUndo:
		h.handleHistory(msg.RoomID, MsgUndo)
	case MsgRedo:
		h.handleHistory(msg.RoomID, MsgRedo)
	default:
		log.Printf("[Sync] Dropping message with unknown type %q (room %s)", msg.Type, msg.RoomID)
	}
}

func (h *BoardWSHandler) handleJoin(conn registry.Conn, userID, roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Membership registration happens inside the activation, under the room's
	// lock. A concurrent last-leave drain re-checks occupancy under the same
	// lock, so this client can never end up joined to an evicted room.
	shapes, err := h.store.Activate(ctx, roomID, func() {
		h.registry.Join(conn, roomID)
	})
	if err != nil {
		// Joining a phantom empty room would let this client overwrite real
		// persisted content on the next drain. Surface the failure instead.
		log.Printf("[Sync] Join failed for room %s: %v", roomID, err)
		if err := h.registry.Send(conn, ErrorMessage{
			Type:   "error",
			RoomID: roomID,
			Error:  "failed to load room state, retry later",
		}); err != nil {
			log.Printf("[Sync] Error reply failed (room %s): %v", roomID, err)
		}
		return
	}

	h.joinPresence(roomID, userID)

	if err := h.registry.Send(conn, RoomStateMessage{
		Type:   "room_state",
		RoomID: roomID,
		Shapes: shapes,
	}); err != nil {
		log.Printf("[Sync] room_state send failed (room %s): %v", roomID, err)
	}
}

func (h *BoardWSHandler) handleLeave(conn registry.Conn, userID, roomID string) {
	h.registry.Leave(conn, roomID)
	h.leavePresence(roomID, userID)
	if !h.registry.Occupied(roomID) {
		h.store.DrainWithRetry(roomID, userID, h.registry.Occupied)
	}
}

func (h *BoardWSHandler) handleCreate(userID string, msg InboundMessage) {
	shape, err := model.DecodeShape(msg.Shape)
	if err != nil {
		log.Printf("[Sync] Dropping malformed create (room %s): %v", msg.RoomID, err)
		return
	}

	// The broadcast runs inside the publish callback, under the room's lock,
	// so frames leave in the order mutations were applied. It goes to the
	// originator too: it carries the temp id so the client replaces its
	// optimistic copy instead of rendering a duplicate.
	_, err = h.store.Insert(msg.RoomID, shape, func(id string) {
		h.registry.Broadcast(msg.RoomID, ShapeCreatedMessage{
			Type:   MsgCreateAlias,
			ID:     id,
			TempID: msg.TempID,
			Shape:  shape,
			RoomID: msg.RoomID,
		})
	})
	if err != nil {
		log.Printf("[Sync] Dropping create for inactive room %s", msg.RoomID)
	}
}

func (h *BoardWSHandler) handleUpdate(msg InboundMessage) {
	shape, err := model.DecodeShape(msg.Shape)
	if err != nil {
		log.Printf("[Sync] Dropping malformed update (room %s): %v", msg.RoomID, err)
		return
	}

	// Last-writer-wins by server arrival order; unknown ids are dropped with
	// no broadcast. The publish callback keeps the broadcast inside the room
	// lock, so the last frame clients see matches the last write applied.
	_ = h.store.Update(msg.RoomID, msg.ID, shape, func() {
		h.registry.Broadcast(msg.RoomID, ShapeUpdatedMessage{
			Type:   MsgUpdateAlias,
			ID:     msg.ID,
			Shape:  shape,
			RoomID: msg.RoomID,
		})
	})
}

func (h *BoardWSHandler) handleDelete(msg InboundMessage) {
	// Delete is idempotent: an unknown id still broadcasts so every client
	// converges on the shape being gone.
	_, _ = h.store.Delete(msg.RoomID, msg.ID, func(bool) {
		h.registry.Broadcast(msg.RoomID, ShapeDeletedMessage{
			Type:   MsgDeleteAlias,
			ID:     msg.ID,
			RoomID: msg.RoomID,
		})
	})
}

func (h *BoardWSHandler) handleReorder(msg InboundMessage) {
	// The publish callback fires only when the order actually changed.
	_, _, _ = h.store.Reorder(msg.RoomID, msg.Order, func(order []string) {
		h.registry.Broadcast(msg.RoomID, ReorderMessage{
			Type:   MsgReorder,
			Order:  order,
			RoomID: msg.RoomID,
		})
	})
}

func (h *BoardWSHandler) handleHistory(roomID, kind string) {
	// An empty stack broadcasts the unchanged collection so clients stay in
	// agreement about the current state.
	publish := func(shapes []model.StoredShape) {
		h.registry.Broadcast(roomID, HistoryMessage{
			Type:   kind,
			Shapes: shapes,
			RoomID: roomID,
		})
	}
	if kind == MsgUndo {
		_, _ = h.store.Undo(roomID, publish)
	} else {
		_, _ = h.store.Redo(roomID, publish)
	}
}

func (h *BoardWSHandler) joinPresence(roomID, userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.JoinRoom(ctx, roomID, userID); err != nil {
		log.Printf("[Sync] Presence join failed (room %s): %v", roomID, err)
	}
}

func (h *BoardWSHandler) leavePresence(roomID, userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.LeaveRoom(ctx, roomID, userID); err != nil {
		log.Printf("[Sync] Presence leave failed (room %s): %v", roomID, err)
	}
}
