package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"whiteboard-backend/internal/model"
)

// Gateway 방 도형 이벤트 영속화 게이트웨이
//
// The sync engine only relies on two guarantees: LoadEvents returns events in
// stable ascending order, and ReplaceAll is atomic per room (a concurrent
// LoadEvents sees either the old event set or the new one, never a mix).
type Gateway interface {
	LoadEvents(ctx context.Context, roomID string) ([]model.ShapeEvent, error)
	ReplaceAll(ctx context.Context, roomID string, userID string, shapes []model.StoredShape) error
}

// GormGateway GORM 기반 Gateway 구현
type GormGateway struct {
	db *gorm.DB
}

func NewGormGateway(db *gorm.DB) *GormGateway {
	return &GormGateway{db: db}
}

// roomKey 외부에서 받은 roomId 문자열을 DB 키로 변환
func roomKey(roomID string) (int64, error) {
	id, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid room id %q: %w", roomID, err)
	}
	return id, nil
}

func (g *GormGateway) LoadEvents(ctx context.Context, roomID string) ([]model.ShapeEvent, error) {
	rid, err := roomKey(roomID)
	if err != nil {
		return nil, err
	}

	var events []model.ShapeEvent
	if err := g.db.WithContext(ctx).
		Where("room_id = ?", rid).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load events for room %s: %w", roomID, err)
	}
	return events, nil
}

// ReplaceAll drops every prior event for the room and writes one upsert event
// per surviving shape, in a single transaction.
func (g *GormGateway) ReplaceAll(ctx context.Context, roomID string, userID string, shapes []model.StoredShape) error {
	rid, err := roomKey(roomID)
	if err != nil {
		return err
	}

	rows := make([]model.ShapeEvent, 0, len(shapes))
	for _, s := range shapes {
		payload, err := json.Marshal(s.Shape)
		if err != nil {
			return fmt.Errorf("marshal shape %s: %w", s.ID, err)
		}
		rows = append(rows, model.ShapeEvent{
			RoomID:  rid,
			UserID:  userID,
			Kind:    model.EventUpsert,
			ShapeID: s.ID,
			Payload: string(payload),
		})
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", rid).Delete(&model.ShapeEvent{}).Error; err != nil {
			return fmt.Errorf("clear events for room %s: %w", roomID, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("write events for room %s: %w", roomID, err)
		}
		return nil
	})
}
