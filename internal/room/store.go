package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/persist"
)

var (
	ErrNotActive     = errors.New("room is not active")
	ErrShapeNotFound = errors.New("shape not found")
	ErrLoadFailed    = errors.New("failed to load room state")
	ErrFlushFailed   = errors.New("failed to flush room state")
)

// Store 활성 방 상태 저장소
//
// Owns the authoritative in-memory shape collection of every active room.
// Rooms are independent: each carries its own mutex, and gateway calls during
// activate/drain block only the room they belong to.
//
// Mutation methods take a publish callback that runs while the room's lock is
// still held. Broadcasts emitted from it leave in the exact order the
// mutations were applied; a broadcast emitted after the lock is released
// could be delivered out of order on a multi-core host.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*state
	gateway persist.Gateway

	drainRetryInterval time.Duration
	drainRetryMax      int
}

func NewStore(gateway persist.Gateway, drainRetryInterval time.Duration, drainRetryMax int) *Store {
	return &Store{
		rooms:              make(map[string]*state),
		gateway:            gateway,
		drainRetryInterval: drainRetryInterval,
		drainRetryMax:      drainRetryMax,
	}
}

// Activate returns the room's shape collection, loading and replaying
// persisted events on first activation. A failed load caches nothing, so a
// join can never land in a phantom empty room.
//
// onActive runs under the room's lock before the collection is returned.
// Callers register room membership there: a concurrent drain re-checks
// occupancy under the same lock, so it either sees the new member and aborts,
// or finishes first and this call re-activates a fresh entry.
func (s *Store) Activate(ctx context.Context, roomID string, onActive func()) ([]model.StoredShape, error) {
	for {
		s.mu.Lock()
		st, exists := s.rooms[roomID]
		if !exists {
			st = &state{}
			s.rooms[roomID] = st
		}
		s.mu.Unlock()

		st.mu.Lock()
		if st.evicted {
			// Lost a race with a concurrent drain; take a fresh entry.
			st.mu.Unlock()
			continue
		}
		if !st.loaded {
			events, err := s.gateway.LoadEvents(ctx, roomID)
			if err != nil {
				st.evicted = true
				st.mu.Unlock()
				s.mu.Lock()
				if s.rooms[roomID] == st {
					delete(s.rooms, roomID)
				}
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
			}
			st.shapes = materialize(events)
			st.loaded = true
			log.Printf("[RoomStore] Activated room %s (%d shapes, %d events)", roomID, len(st.shapes), len(events))
		}
		if onActive != nil {
			onActive()
		}
		shapes := model.CloneShapes(st.shapes)
		st.mu.Unlock()
		return shapes, nil
	}
}

// get returns the state of an active room, or nil.
func (s *Store) get(roomID string) *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// lockActive locks the state of roomID, refusing entries that are still
// loading or were drained after we fetched them from the map.
func (s *Store) lockActive(roomID string) *state {
	st := s.get(roomID)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	if st.evicted || !st.loaded {
		st.mu.Unlock()
		return nil
	}
	return st
}

// Snapshot deep-copies the active collection.
func (s *Store) Snapshot(roomID string) ([]model.StoredShape, error) {
	st := s.lockActive(roomID)
	if st == nil {
		return nil, ErrNotActive
	}
	defer st.mu.Unlock()
	return model.CloneShapes(st.shapes), nil
}

// Insert appends a shape under a fresh server id and returns it. publish runs
// under the room's lock with the assigned id.
func (s *Store) Insert(roomID string, shape model.Shape, publish func(id string)) (string, error) {
	st := s.lockActive(roomID)
	if st == nil {
		return "", ErrNotActive
	}
	defer st.mu.Unlock()

	st.pushHistory()
	id := uuid.NewString()
	st.shapes = append(st.shapes, model.StoredShape{ID: id, Shape: shape})
	st.dirty = true
	if publish != nil {
		publish(id)
	}
	return id, nil
}

// Update replaces the shape stored under id (last-writer-wins, whole-shape).
// publish runs under the room's lock on success only.
func (s *Store) Update(roomID, shapeID string, shape model.Shape, publish func()) error {
	st := s.lockActive(roomID)
	if st == nil {
		return ErrNotActive
	}
	defer st.mu.Unlock()

	pos := st.findShape(shapeID)
	if pos == -1 {
		return ErrShapeNotFound
	}
	st.pushHistory()
	st.shapes[pos].Shape = shape
	st.dirty = true
	if publish != nil {
		publish()
	}
	return nil
}

// Delete removes the shape stored under id. Deleting an unknown id is
// idempotent: no error, unchanged collection, no history entry. publish runs
// under the room's lock whenever the room is active, unknown id included.
func (s *Store) Delete(roomID, shapeID string, publish func(existed bool)) (bool, error) {
	st := s.lockActive(roomID)
	if st == nil {
		return false, ErrNotActive
	}
	defer st.mu.Unlock()

	existed := false
	if pos := st.findShape(shapeID); pos != -1 {
		st.pushHistory()
		st.shapes = append(st.shapes[:pos], st.shapes[pos+1:]...)
		st.dirty = true
		existed = true
	}
	if publish != nil {
		publish(existed)
	}
	return existed, nil
}

// Reorder re-sequences the collection to match order (omitted shapes keep
// their prior relative order at the end) and returns the resulting full
// order. No-op when the room knows none of the listed ids. publish runs under
// the room's lock, only when the order changed.
func (s *Store) Reorder(roomID string, order []string, publish func(order []string)) ([]string, bool, error) {
	st := s.lockActive(roomID)
	if st == nil {
		return nil, false, ErrNotActive
	}
	defer st.mu.Unlock()

	pre := model.CloneShapes(st.shapes)
	if !st.reorderShapes(order) {
		return st.currentOrder(), false, nil
	}
	st.undoStack = append(st.undoStack, pre)
	st.redoStack = nil
	st.dirty = true
	result := st.currentOrder()
	if publish != nil {
		publish(result)
	}
	return result, true, nil
}

// Undo restores the previous snapshot, or returns the collection unchanged
// when the undo stack is empty. publish runs under the room's lock with the
// resulting collection, empty stack included.
func (s *Store) Undo(roomID string, publish func(shapes []model.StoredShape)) ([]model.StoredShape, error) {
	st := s.lockActive(roomID)
	if st == nil {
		return nil, ErrNotActive
	}
	defer st.mu.Unlock()

	if n := len(st.undoStack); n > 0 {
		st.redoStack = append(st.redoStack, st.shapes)
		st.shapes = st.undoStack[n-1]
		st.undoStack = st.undoStack[:n-1]
		st.dirty = true
	}
	shapes := model.CloneShapes(st.shapes)
	if publish != nil {
		publish(shapes)
	}
	return shapes, nil
}

// Redo is symmetric to Undo.
func (s *Store) Redo(roomID string, publish func(shapes []model.StoredShape)) ([]model.StoredShape, error) {
	st := s.lockActive(roomID)
	if st == nil {
		return nil, ErrNotActive
	}
	defer st.mu.Unlock()

	if n := len(st.redoStack); n > 0 {
		st.undoStack = append(st.undoStack, st.shapes)
		st.shapes = st.redoStack[n-1]
		st.redoStack = st.redoStack[:n-1]
		st.dirty = true
	}
	shapes := model.CloneShapes(st.shapes)
	if publish != nil {
		publish(shapes)
	}
	return shapes, nil
}

// Drain flushes the final collection (replace-all) and evicts the room.
// On flush failure the room stays active so no shape is ever silently lost.
// occupied is re-checked under the room's lock: a member who joined after the
// caller's occupancy check keeps the room active instead of being evicted
// mid-join.
func (s *Store) Drain(ctx context.Context, roomID, userID string, occupied func(roomID string) bool) error {
	st := s.lockActive(roomID)
	if st == nil {
		return nil
	}
	defer st.mu.Unlock()

	if occupied != nil && occupied(roomID) {
		return nil
	}

	if err := s.gateway.ReplaceAll(ctx, roomID, userID, st.shapes); err != nil {
		return fmt.Errorf("%w: %v", ErrFlushFailed, err)
	}

	st.evicted = true
	s.mu.Lock()
	if s.rooms[roomID] == st {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()

	log.Printf("[RoomStore] Drained room %s (%d shapes persisted)", roomID, len(st.shapes))
	return nil
}

// DrainWithRetry drains the room once the roomID is unoccupied, retrying a
// failed flush on a timer. A room that re-gains members before an attempt is
// left active; a room whose retries are exhausted also stays in memory, to be
// drained again when its next occupant leaves.
func (s *Store) DrainWithRetry(roomID, userID string, occupied func(roomID string) bool) {
	var attempt func(remaining int)
	attempt = func(remaining int) {
		if occupied(roomID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.Drain(ctx, roomID, userID, occupied)
		cancel()
		if err == nil {
			return
		}
		log.Printf("[RoomStore] Drain failed for room %s (%d retries left): %v", roomID, remaining, err)
		if remaining <= 0 {
			log.Printf("[RoomStore] Giving up drain retries for room %s; state kept in memory", roomID)
			return
		}
		time.AfterFunc(s.drainRetryInterval, func() { attempt(remaining - 1) })
	}
	attempt(s.drainRetryMax)
}

// FlushAll checkpoints every active room that changed since its last flush.
// Rooms stay active; a flush error only skips that room until the next tick.
func (s *Store) FlushAll(ctx context.Context, userID string) {
	for _, id := range s.RoomIDs() {
		st := s.lockActive(id)
		if st == nil {
			continue
		}
		if !st.dirty {
			st.mu.Unlock()
			continue
		}
		err := s.gateway.ReplaceAll(ctx, id, userID, st.shapes)
		if err == nil {
			st.dirty = false
		}
		st.mu.Unlock()
		if err != nil {
			log.Printf("[RoomStore] Checkpoint failed for room %s: %v", id, err)
		}
	}
}

// RunCheckpoints flushes active rooms on a fixed interval until ctx is done.
func (s *Store) RunCheckpoints(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FlushAll(ctx, "checkpoint")
		}
	}
}

// RoomIDs lists the rooms currently held in memory.
func (s *Store) RoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// ActiveRooms 현재 메모리에 올라와 있는 방 수 (헬스/디버깅용)
func (s *Store) ActiveRooms() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
