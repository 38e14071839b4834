package model

import "encoding/json"

// StoredShape 서버가 식별자를 부여한 도형 한 개
//
// IDs are server-assigned and never reused within a room. Clients render
// optimistically under a "pending-<ts>" id until the create broadcast echoes
// the server id back.
type StoredShape struct {
	ID    string `json:"id"`
	Shape Shape  `json:"shape"`
}

func (s *StoredShape) UnmarshalJSON(b []byte) error {
	var envelope struct {
		ID    string          `json:"id"`
		Shape json.RawMessage `json:"shape"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return err
	}
	shape, err := DecodeShape(envelope.Shape)
	if err != nil {
		return err
	}
	s.ID = envelope.ID
	s.Shape = shape
	return nil
}

func (s StoredShape) Clone() StoredShape {
	return StoredShape{ID: s.ID, Shape: s.Shape.Clone()}
}

// CloneShapes deep-copies a shape collection for undo/redo snapshots.
func CloneShapes(shapes []StoredShape) []StoredShape {
	out := make([]StoredShape, len(shapes))
	for i, s := range shapes {
		out[i] = s.Clone()
	}
	return out
}
