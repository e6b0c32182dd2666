// Package viewport converts between screen pixels and normalized image space
// and owns the pan/zoom state of the canvas.
package viewport

import (
	"fmt"

	"vision-annotator/pkg/geometry"
)

// Transform is the pan/zoom state plus the on-screen image extent at scale 1.
//
// A normalized image point p maps to screen as
//
//	screen = translate + scale * (p * extent)
type Transform struct {
	Scale      float64
	TranslateX float64
	TranslateY float64
	Width      float64
	Height     float64
}

// Affine returns the normalized-to-screen matrix.
func (t Transform) Affine() geometry.AffineTransform {
	return geometry.AffineTransform{
		A: t.Scale * t.Width, TX: t.TranslateX,
		D: t.Scale * t.Height, TY: t.TranslateY,
	}
}

// ToScreenSpace maps a normalized image point to screen pixels.
func (t Transform) ToScreenSpace(imageX, imageY float64) geometry.Point2D {
	return t.Affine().Apply(geometry.Point2D{X: imageX, Y: imageY})
}

// ToImageSpace maps screen pixels to normalized image space. The result is not
// clamped; callers that need [0,1] clamp it themselves. A degenerate transform
// (zero scale or extent) yields the origin.
func (t Transform) ToImageSpace(screenX, screenY float64) geometry.Point2D {
	inv, ok := t.Affine().Inverse()
	if !ok {
		return geometry.Point2D{}
	}
	return inv.Apply(geometry.Point2D{X: screenX, Y: screenY})
}

// ScreenRect maps a normalized rectangle to screen pixels.
func (t Transform) ScreenRect(r geometry.Rect) geometry.Rect {
	tl := t.ToScreenSpace(r.X, r.Y)
	br := t.ToScreenSpace(r.X+r.Width, r.Y+r.Height)
	return geometry.RectFromCorners(tl, br)
}

// ScreenDistance converts a distance in screen pixels to a normalized distance
// along the smaller image axis.
func (t Transform) ScreenDistance(px float64) float64 {
	extent := t.Width
	if t.Height < extent {
		extent = t.Height
	}
	if extent <= 0 || t.Scale <= 0 {
		return 0
	}
	return px / (t.Scale * extent)
}

// String renders the transform as a CSS-style descriptor.
func (t Transform) String() string {
	return fmt.Sprintf("translate(%.2fpx, %.2fpx) scale(%.4f)", t.TranslateX, t.TranslateY, t.Scale)
}
