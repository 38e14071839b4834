package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeShapeVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ShapeType
	}{
		{"rect", `{"type":"rect","x":10,"y":20,"width":100,"height":50}`, ShapeRect},
		{"circle", `{"type":"circle","centerX":5,"centerY":5,"radius":3}`, ShapeCircle},
		{"line", `{"type":"line","startX":0,"startY":0,"endX":10,"endY":10}`, ShapeLine},
		{"arrow", `{"type":"arrow","startX":1,"startY":1,"endX":2,"endY":2}`, ShapeArrow},
		{"diamond", `{"type":"diamond","centerX":0,"centerY":0,"width":4,"height":4}`, ShapeDiamond},
		{"pencil", `{"type":"pencil","path":[[0,0],[1,2],[3,4]]}`, ShapePencil},
		{"text", `{"type":"text","x":0,"y":0,"width":80,"height":20,"text":"hello","fontSize":14}`, ShapeText},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shape, err := DecodeShape(json.RawMessage(tc.raw))
			if err != nil {
				t.Fatalf("DecodeShape(%s): %v", tc.raw, err)
			}
			if shape.Kind() != tc.want {
				t.Fatalf("Kind() = %q, want %q", shape.Kind(), tc.want)
			}
		})
	}
}

func TestDecodeShapeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"triangle","x":0,"y":0}`},
		{"missing type", `{"x":0,"y":0}`},
		{"not an object", `"rect"`},
		{"invalid json", `{"type":"rect",`},
		{"wrong field type", `{"type":"rect","x":"ten"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeShape(json.RawMessage(tc.raw)); !errors.Is(err, ErrMalformedShape) {
				t.Fatalf("DecodeShape(%s) error = %v, want ErrMalformedShape", tc.raw, err)
			}
		})
	}
}

func TestDecodeShapeKeepsFields(t *testing.T) {
	raw := `{"type":"rect","x":10,"y":20,"width":100,"height":50,"strokeWidth":2,"strokeColor":"#ff0000"}`
	shape, err := DecodeShape(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeShape: %v", err)
	}

	rect, ok := shape.(*Rect)
	if !ok {
		t.Fatalf("decoded %T, want *Rect", shape)
	}
	if rect.X != 10 || rect.Y != 20 || rect.Width != 100 || rect.Height != 50 {
		t.Fatalf("geometry mismatch: %+v", rect)
	}
	if rect.StrokeWidth != 2 || rect.StrokeColor != "#ff0000" {
		t.Fatalf("stroke mismatch: %+v", rect.Stroke)
	}
}

func TestPencilCloneIsDeep(t *testing.T) {
	orig := &Pencil{Type: ShapePencil, Path: [][2]float64{{0, 0}, {1, 1}}}
	clone := orig.Clone().(*Pencil)

	clone.Path[0][0] = 99
	if orig.Path[0][0] != 0 {
		t.Fatal("mutating a clone's path leaked into the original")
	}
}

func TestCloneShapesIndependence(t *testing.T) {
	shapes := []StoredShape{
		{ID: "a", Shape: &Rect{Type: ShapeRect, X: 1, Y: 1, Width: 2, Height: 2}},
		{ID: "b", Shape: &Pencil{Type: ShapePencil, Path: [][2]float64{{5, 5}}}},
	}

	snapshot := CloneShapes(shapes)
	shapes[0].Shape.(*Rect).X = 100
	shapes[1].Shape.(*Pencil).Path[0][1] = 100

	if snapshot[0].Shape.(*Rect).X != 1 {
		t.Fatal("rect snapshot shares memory with the live collection")
	}
	if snapshot[1].Shape.(*Pencil).Path[0][1] != 5 {
		t.Fatal("pencil snapshot shares memory with the live collection")
	}
}

func TestStoredShapeRoundTrip(t *testing.T) {
	in := StoredShape{ID: "s1", Shape: &Circle{Type: ShapeCircle, CenterX: 3, CenterY: 4, Radius: 5}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out StoredShape
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != "s1" {
		t.Fatalf("ID = %q, want s1", out.ID)
	}
	circle, ok := out.Shape.(*Circle)
	if !ok {
		t.Fatalf("decoded %T, want *Circle", out.Shape)
	}
	if circle.Radius != 5 {
		t.Fatalf("Radius = %v, want 5", circle.Radius)
	}
}
