package room

import (
	"encoding/json"
	"log"
	"sync"

	"whiteboard-backend/internal/model"
)

// state 활성 방 하나의 메모리 상태
//
// While a room is active its in-memory collection is the single source of
// truth; persisted rows are stale until drain. All access goes through the
// state mutex, so mutations of one room are strictly sequential.
type state struct {
	mu        sync.Mutex
	shapes    []model.StoredShape
	undoStack [][]model.StoredShape
	redoStack [][]model.StoredShape
	loaded    bool
	evicted   bool
	dirty     bool
}

// materialize replays persisted events in ascending event id order.
// A later upsert for a shape id overwrites it in place (z-order keeps the
// first-insert position); a delete removes it; an upsert after a delete
// re-appends at the end.
func materialize(events []model.ShapeEvent) []model.StoredShape {
	shapes := make([]model.StoredShape, 0, len(events))
	index := make(map[string]int)

	for _, ev := range events {
		switch ev.Kind {
		case model.EventDelete:
			if pos, ok := index[ev.ShapeID]; ok {
				shapes = append(shapes[:pos], shapes[pos+1:]...)
				delete(index, ev.ShapeID)
				for id, p := range index {
					if p > pos {
						index[id] = p - 1
					}
				}
			}
		case model.EventUpsert:
			shape, err := model.DecodeShape(json.RawMessage(ev.Payload))
			if err != nil {
				log.Printf("[RoomStore] Skipping unreadable event %d (room %d): %v", ev.ID, ev.RoomID, err)
				continue
			}
			if pos, ok := index[ev.ShapeID]; ok {
				shapes[pos].Shape = shape
			} else {
				index[ev.ShapeID] = len(shapes)
				shapes = append(shapes, model.StoredShape{ID: ev.ShapeID, Shape: shape})
			}
		default:
			log.Printf("[RoomStore] Skipping event %d with unknown kind %q", ev.ID, ev.Kind)
		}
	}
	return shapes
}

// pushHistory records the pre-mutation snapshot. Any new mutation invalidates
// the redo stack (standard linear undo).
func (st *state) pushHistory() {
	st.undoStack = append(st.undoStack, model.CloneShapes(st.shapes))
	st.redoStack = nil
}

func (st *state) findShape(id string) int {
	for i, s := range st.shapes {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// reorderShapes re-sequences to match order, appending ids omitted from the
// list at the end in their prior relative order. Ids in the list that the
// room does not know are skipped. Returns false when nothing matched.
func (st *state) reorderShapes(order []string) bool {
	byID := make(map[string]model.StoredShape, len(st.shapes))
	for _, s := range st.shapes {
		byID[s.ID] = s
	}

	next := make([]model.StoredShape, 0, len(st.shapes))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if s, ok := byID[id]; ok && !seen[id] {
			next = append(next, s)
			seen[id] = true
		}
	}
	if len(next) == 0 {
		return false
	}
	for _, s := range st.shapes {
		if !seen[s.ID] {
			next = append(next, s)
		}
	}
	st.shapes = next
	return true
}

func (st *state) currentOrder() []string {
	order := make([]string, len(st.shapes))
	for i, s := range st.shapes {
		order[i] = s.ID
	}
	return order
}
