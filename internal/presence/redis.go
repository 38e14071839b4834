package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 방 멤버십 키 TTL. 정상 종료가 누락돼도 키가 남지 않도록 갱신형 TTL 사용.
const membershipTTL = 24 * time.Hour

// Manager Redis 기반 방 점유 현황 (best-effort)
//
// The in-memory registry stays authoritative for fanout and drain decisions;
// this only mirrors occupancy into Redis so the collaborator HTTP service can
// show who is on which board. Every call is optional: a Redis outage never
// affects sync correctness.
type Manager struct {
	client *redis.Client
}

func NewManager(addr, password string, db int) (*Manager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Manager{client: rdb}, nil
}

func roomKey(roomID string) string {
	return "board:room:" + roomID + ":members"
}

// JoinRoom 방 멤버 추가
func (m *Manager) JoinRoom(ctx context.Context, roomID, userID string) error {
	if err := m.client.SAdd(ctx, roomKey(roomID), userID).Err(); err != nil {
		return err
	}
	return m.client.Expire(ctx, roomKey(roomID), membershipTTL).Err()
}

// LeaveRoom 방 멤버 제거
func (m *Manager) LeaveRoom(ctx context.Context, roomID, userID string) error {
	return m.client.SRem(ctx, roomKey(roomID), userID).Err()
}

// RoomCount 방 인원 수
func (m *Manager) RoomCount(ctx context.Context, roomID string) (int64, error) {
	return m.client.SCard(ctx, roomKey(roomID)).Result()
}

func (m *Manager) Close() error {
	return m.client.Close()
}
