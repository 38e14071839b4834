package model

import (
	"time"
)

// 이벤트 종류
const (
	EventUpsert = "upsert"
	EventDelete = "delete"
)

// ShapeEvent 방 단위 도형 변경 이벤트 (영속 저장 행)
//
// One row per shape-mutation-event. Replay order is the primary key
// ascending; a later upsert for the same shape id wins and a later delete
// removes it regardless of wall clock.
type ShapeEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64     `gorm:"not null;index:idx_shape_events_room" json:"room_id"`
	UserID    string    `gorm:"not null" json:"user_id"`
	Kind      string    `gorm:"not null" json:"kind"` // upsert | delete
	ShapeID   string    `gorm:"not null" json:"shape_id"`
	Payload   string    `gorm:"type:jsonb" json:"payload"` // serialized shape, empty for delete
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ShapeEvent) TableName() string {
	return "shape_events"
}
