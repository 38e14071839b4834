package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedShape = errors.New("malformed shape payload")

// ShapeType 도형 종류 태그
type ShapeType string

const (
	ShapeRect    ShapeType = "rect"
	ShapeCircle  ShapeType = "circle"
	ShapeLine    ShapeType = "line"
	ShapeArrow   ShapeType = "arrow"
	ShapeDiamond ShapeType = "diamond"
	ShapePencil  ShapeType = "pencil"
	ShapeText    ShapeType = "text"
)

// Shape is the closed set of drawable primitives. Only the variant structs in
// this file implement it, so a type switch over Shape is exhaustive.
type Shape interface {
	Kind() ShapeType
	Clone() Shape
}

// Stroke 공통 선 스타일 (옵션)
type Stroke struct {
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	StrokeColor string  `json:"strokeColor,omitempty"`
}

type Rect struct {
	Type   ShapeType `json:"type"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`
	Stroke
}

type Circle struct {
	Type    ShapeType `json:"type"`
	CenterX float64   `json:"centerX"`
	CenterY float64   `json:"centerY"`
	Radius  float64   `json:"radius"`
	Stroke
}

type Line struct {
	Type   ShapeType `json:"type"`
	StartX float64   `json:"startX"`
	StartY float64   `json:"startY"`
	EndX   float64   `json:"endX"`
	EndY   float64   `json:"endY"`
	Stroke
}

type Arrow struct {
	Type   ShapeType `json:"type"`
	StartX float64   `json:"startX"`
	StartY float64   `json:"startY"`
	EndX   float64   `json:"endX"`
	EndY   float64   `json:"endY"`
	Stroke
}

type Diamond struct {
	Type         ShapeType `json:"type"`
	CenterX      float64   `json:"centerX"`
	CenterY      float64   `json:"centerY"`
	Width        float64   `json:"width"`
	Height       float64   `json:"height"`
	CornerRadius float64   `json:"cornerRadius,omitempty"`
	Stroke
}

// Pencil 자유곡선 (freehand path)
type Pencil struct {
	Type ShapeType    `json:"type"`
	Path [][2]float64 `json:"path"`
	Stroke
}

// Text 텍스트 박스
type Text struct {
	Type          ShapeType `json:"type"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Width         float64   `json:"width"`
	Height        float64   `json:"height"`
	Text          string    `json:"text"`
	FontSize      float64   `json:"fontSize"`
	FontFamily    string    `json:"fontFamily,omitempty"`
	LineHeight    float64   `json:"lineHeight,omitempty"`
	TextAlign     string    `json:"textAlign,omitempty"`
	VerticalAlign string    `json:"verticalAlign,omitempty"`
	Stroke
}

func (s *Rect) Kind() ShapeType    { return ShapeRect }
func (s *Circle) Kind() ShapeType  { return ShapeCircle }
func (s *Line) Kind() ShapeType    { return ShapeLine }
func (s *Arrow) Kind() ShapeType   { return ShapeArrow }
func (s *Diamond) Kind() ShapeType { return ShapeDiamond }
func (s *Pencil) Kind() ShapeType  { return ShapePencil }
func (s *Text) Kind() ShapeType    { return ShapeText }

func (s *Rect) Clone() Shape    { c := *s; return &c }
func (s *Circle) Clone() Shape  { c := *s; return &c }
func (s *Line) Clone() Shape    { c := *s; return &c }
func (s *Arrow) Clone() Shape   { c := *s; return &c }
func (s *Diamond) Clone() Shape { c := *s; return &c }
func (s *Text) Clone() Shape    { c := *s; return &c }

func (s *Pencil) Clone() Shape {
	c := *s
	c.Path = make([][2]float64, len(s.Path))
	copy(c.Path, s.Path)
	return &c
}

// DecodeShape parses a raw shape payload into its concrete variant.
// Unknown or unparseable payloads return ErrMalformedShape.
func DecodeShape(raw json.RawMessage) (Shape, error) {
	var tag struct {
		Type ShapeType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShape, err)
	}

	var shape Shape
	switch tag.Type {
	case ShapeRect:
		shape = &Rect{}
	case ShapeCircle:
		shape = &Circle{}
	case ShapeLine:
		shape = &Line{}
	case ShapeArrow:
		shape = &Arrow{}
	case ShapeDiamond:
		shape = &Diamond{}
	case ShapePencil:
		shape = &Pencil{}
	case ShapeText:
		shape = &Text{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedShape, tag.Type)
	}

	if err := json.Unmarshal(raw, shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShape, err)
	}
	normalizeTag(shape, tag.Type)
	return shape, nil
}

// normalizeTag keeps the serialized type field consistent with the variant,
// even when a client omits it in a nested payload.
func normalizeTag(s Shape, t ShapeType) {
	switch v := s.(type) {
	case *Rect:
		v.Type = t
	case *Circle:
		v.Type = t
	case *Line:
		v.Type = t
	case *Arrow:
		v.Type = t
	case *Diamond:
		v.Type = t
	case *Pencil:
		v.Type = t
	case *Text:
		v.Type = t
	}
}
