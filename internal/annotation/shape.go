// Package annotation holds the shapes drawn on the current image and the
// store that owns them.
package annotation

import (
	"math"

	"github.com/google/uuid"

	"vision-annotator/pkg/geometry"
)

// MinBoxArea is the smallest normalized area a committed box may have.
const MinBoxArea = 1e-5

// MinPolygonPoints is the number of vertices a polygon needs to be persisted.
const MinPolygonPoints = 3

// Kind discriminates the Shape variants.
type Kind string

const (
	KindBox     Kind = "box"
	KindPolygon Kind = "polygon"
)

// Source records who produced a shape.
type Source string

const (
	SourceManual Source = "manual"
	SourceAI     Source = "ai"
)

// NewID returns a fresh shape identifier.
func NewID() string {
	return uuid.NewString()
}

// Shape is implemented by *Box and *Polygon.
type Shape interface {
	// ShapeID returns the unique identifier of the shape.
	ShapeID() string

	// ShapeKind returns the variant discriminant.
	ShapeKind() Kind

	// Attributes returns the label, color and provenance of the shape.
	Attributes() Attrs

	// Bounds returns the normalized bounding rectangle.
	Bounds() geometry.Rect

	// HitTest returns true if p is on or within tolerance of the shape.
	HitTest(p geometry.Point2D, tolerance float64) bool

	// Validate reports whether the shape may be persisted.
	Validate() error

	// Clone returns a deep copy.
	Clone() Shape
}

// Attrs are the attributes shared by every shape kind.
type Attrs struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Color      string  `json:"color"`
	ClassID    *int    `json:"class_id,omitempty"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
}

func (a Attrs) clone() Attrs {
	if a.ClassID != nil {
		id := *a.ClassID
		a.ClassID = &id
	}
	return a
}

// Box is an axis-aligned rectangle in normalized coordinates.
type Box struct {
	Attrs
	geometry.Rect
}

func (b *Box) ShapeID() string   { return b.ID }
func (b *Box) ShapeKind() Kind   { return KindBox }
func (b *Box) Attributes() Attrs { return b.Attrs }

func (b *Box) Bounds() geometry.Rect {
	return b.Rect.Normalize()
}

func (b *Box) HitTest(p geometry.Point2D, tolerance float64) bool {
	r := b.Rect.Normalize()
	return p.X >= r.X-tolerance && p.X <= r.X+r.Width+tolerance &&
		p.Y >= r.Y-tolerance && p.Y <= r.Y+r.Height+tolerance
}

func (b *Box) Validate() error {
	if b.ID == "" {
		return ErrMissingID
	}
	if b.Rect.Area() <= MinBoxArea || math.IsNaN(b.Rect.Area()) {
		return ErrBoxTooSmall
	}
	return nil
}

func (b *Box) Clone() Shape {
	c := *b
	c.Attrs = b.Attrs.clone()
	return &c
}

// Polygon is a closed polygon in normalized coordinates.
type Polygon struct {
	Attrs
	Points []geometry.Point2D `json:"points"`
}

func (p *Polygon) ShapeID() string   { return p.ID }
func (p *Polygon) ShapeKind() Kind   { return KindPolygon }
func (p *Polygon) Attributes() Attrs { return p.Attrs }

func (p *Polygon) Bounds() geometry.Rect {
	return geometry.BoundingBox(p.Points)
}

func (p *Polygon) HitTest(pt geometry.Point2D, tolerance float64) bool {
	if geometry.PointInPolygon(pt, p.Points) {
		return true
	}
	n := len(p.Points)
	for i := 0; i < n; i++ {
		if geometry.SegmentDistance(pt, p.Points[i], p.Points[(i+1)%n]) <= tolerance {
			return true
		}
	}
	return false
}

func (p *Polygon) Validate() error {
	if p.ID == "" {
		return ErrMissingID
	}
	if len(p.Points) < MinPolygonPoints {
		return ErrTooFewPoints
	}
	return nil
}

func (p *Polygon) Clone() Shape {
	c := *p
	c.Attrs = p.Attrs.clone()
	c.Points = append([]geometry.Point2D(nil), p.Points...)
	return &c
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	X, Y, Width, Height *float64
	Points              []geometry.Point2D
	Label, Color        *string
	ClassID             *int
}

// RectPatch builds a patch that sets all four box fields.
func RectPatch(r geometry.Rect) Patch {
	return Patch{X: &r.X, Y: &r.Y, Width: &r.Width, Height: &r.Height}
}

func (p Patch) touchesRect() bool {
	return p.X != nil || p.Y != nil || p.Width != nil || p.Height != nil
}

// Apply returns a patched copy of s.
func (p Patch) Apply(s Shape) (Shape, error) {
	out := s.Clone()
	var attrs *Attrs

	switch v := out.(type) {
	case *Box:
		if p.Points != nil {
			return nil, ErrPatchKind
		}
		if p.X != nil {
			v.X = *p.X
		}
		if p.Y != nil {
			v.Y = *p.Y
		}
		if p.Width != nil {
			v.Width = *p.Width
		}
		if p.Height != nil {
			v.Height = *p.Height
		}
		attrs = &v.Attrs
	case *Polygon:
		if p.touchesRect() {
			return nil, ErrPatchKind
		}
		if p.Points != nil {
			v.Points = append([]geometry.Point2D(nil), p.Points...)
		}
		attrs = &v.Attrs
	default:
		return nil, ErrPatchKind
	}

	if p.Label != nil {
		attrs.Label = *p.Label
	}
	if p.Color != nil {
		attrs.Color = *p.Color
	}
	if p.ClassID != nil {
		id := *p.ClassID
		attrs.ClassID = &id
	}
	return out, nil
}
