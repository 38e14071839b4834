package handler

import (
	"encoding/json"

	"whiteboard-backend/internal/model"
)

// 인바운드 메시지 타입
//
// The short forms are what deployed clients send today; the long forms are
// the canonical names. Both are accepted.
const (
	MsgJoinRoom    = "join_room"
	MsgLeaveRoom   = "leave_room"
	MsgCreateShape = "create_shape"
	MsgCreateAlias = "chat"
	MsgUpdateShape = "update_shape"
	MsgUpdateAlias = "update"
	MsgDeleteShape = "delete_shape"
	MsgDeleteAlias = "delete"
	MsgReorder     = "reorder"
	MsgUndo        = "undo"
	MsgRedo        = "redo"
)

// InboundMessage is the envelope for every client frame. Room-scoped
// operations must carry an explicit roomId; there is no implicit current
// room.
type InboundMessage struct {
	Type   string          `json:"type"`
	RoomID string          `json:"roomId"`
	ID     string          `json:"id,omitempty"`
	TempID string          `json:"tempId,omitempty"`
	Shape  json.RawMessage `json:"shape,omitempty"`
	Order  []string        `json:"order,omitempty"`
}

// RoomStateMessage 입장 직후 요청자에게만 보내는 전체 상태
type RoomStateMessage struct {
	Type   string              `json:"type"` // "room_state"
	RoomID string              `json:"roomId"`
	Shapes []model.StoredShape `json:"shapes"`
}

// ShapeCreatedMessage shape-created broadcast. The type name "chat" is kept
// for compatibility with existing deployments. TempID echoes the creator's
// optimistic id so it can reconcile instead of duplicating.
type ShapeCreatedMessage struct {
	Type   string      `json:"type"` // "chat"
	ID     string      `json:"id"`
	TempID string      `json:"tempId,omitempty"`
	Shape  model.Shape `json:"shape"`
	RoomID string      `json:"roomId"`
}

type ShapeUpdatedMessage struct {
	Type   string      `json:"type"` // "update"
	ID     string      `json:"id"`
	Shape  model.Shape `json:"shape"`
	RoomID string      `json:"roomId"`
}

type ShapeDeletedMessage struct {
	Type   string `json:"type"` // "delete"
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
}

type ReorderMessage struct {
	Type   string   `json:"type"` // "reorder"
	Order  []string `json:"order"`
	RoomID string   `json:"roomId"`
}

// HistoryMessage undo/redo 결과 (델타가 아닌 전체 컬렉션)
type HistoryMessage struct {
	Type   string              `json:"type"` // "undo" | "redo"
	Shapes []model.StoredShape `json:"shapes"`
	RoomID string              `json:"roomId"`
}

type ErrorMessage struct {
	Type   string `json:"type"` // "error"
	RoomID string `json:"roomId,omitempty"`
	Error  string `json:"error"`
}
