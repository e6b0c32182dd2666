// Package canvas provides drawing primitives for the annotation canvas.
package canvas

import (
	"image"
	"image/color"
	"sort"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"vision-annotator/pkg/geometry"
)

func inBounds(output *image.RGBA, x, y int) bool {
	return image.Pt(x, y).In(output.Bounds())
}

// blend mixes col into the pixel at (x, y) with the given opacity.
func blend(output *image.RGBA, x, y int, col color.RGBA, alpha float64) {
	if !inBounds(output, x, y) || alpha <= 0.001 {
		return
	}
	if alpha >= 0.999 {
		output.SetRGBA(x, y, col)
		return
	}
	dst := output.RGBAAt(x, y)
	inv := 1 - alpha
	output.SetRGBA(x, y, color.RGBA{
		R: uint8(float64(col.R)*alpha + float64(dst.R)*inv),
		G: uint8(float64(col.G)*alpha + float64(dst.G)*inv),
		B: uint8(float64(col.B)*alpha + float64(dst.B)*inv),
		A: 255,
	})
}

func set(output *image.RGBA, x, y int, col color.RGBA) {
	if inBounds(output, x, y) {
		output.SetRGBA(x, y, col)
	}
}

// drawLine draws a line between two points using Bresenham's algorithm.
// When dash > 0 the line alternates dash pixels on and dash pixels off.
func drawLine(output *image.RGBA, x1, y1, x2, y2 int, col color.RGBA, thickness, dash int) {
	dx := x2 - x1
	dy := y2 - y1
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}

	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}

	err := dx - dy
	for step := 0; ; step++ {
		if dash <= 0 || (step/dash)%2 == 0 {
			for t := -thickness / 2; t <= thickness/2; t++ {
				for s := -thickness / 2; s <= thickness/2; s++ {
					set(output, x1+s, y1+t, col)
				}
			}
		}

		if x1 == x2 && y1 == y2 {
			break
		}

		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// drawRect outlines r. Dashed outlines mark shapes the backend has not confirmed.
func drawRect(output *image.RGBA, r image.Rectangle, col color.RGBA, thickness int, dashed bool) {
	dash := 0
	if dashed {
		dash = 4
	}
	x1, y1, x2, y2 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y
	drawLine(output, x1, y1, x2, y1, col, thickness, dash)
	drawLine(output, x2, y1, x2, y2, col, thickness, dash)
	drawLine(output, x2, y2, x1, y2, col, thickness, dash)
	drawLine(output, x1, y2, x1, y1, col, thickness, dash)
}

// fillRect blends col over r.
func fillRect(output *image.RGBA, r image.Rectangle, col color.RGBA, alpha float64) {
	r = r.Intersect(output.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			blend(output, x, y, col, alpha)
		}
	}
}

// fillPolygon blends col over the interior of pts using a scanline fill.
func fillPolygon(output *image.RGBA, pts []geometry.Point2D, col color.RGBA, alpha float64) {
	if len(pts) < 3 {
		return
	}
	box := geometry.BoundingBox(pts)
	bounds := output.Bounds()
	n := len(pts)

	var xs []float64
	for y := int(box.Y); y <= int(box.Y+box.Height); y++ {
		if y < bounds.Min.Y || y >= bounds.Max.Y {
			continue
		}
		fy := float64(y) + 0.5

		xs = xs[:0]
		for i := 0; i < n; i++ {
			p1 := pts[i]
			p2 := pts[(i+1)%n]
			if (p1.Y <= fy && p2.Y > fy) || (p2.Y <= fy && p1.Y > fy) {
				t := (fy - p1.Y) / (p2.Y - p1.Y)
				xs = append(xs, p1.X+t*(p2.X-p1.X))
			}
		}
		sort.Float64s(xs)

		for i := 0; i+1 < len(xs); i += 2 {
			for x := int(xs[i] + 0.5); x < int(xs[i+1]+0.5); x++ {
				blend(output, x, y, col, alpha)
			}
		}
	}
}

// drawPolyline strokes pts, closing the ring when closed is set.
func drawPolyline(output *image.RGBA, pts []geometry.Point2D, closed bool, col color.RGBA, thickness, dash int) {
	n := len(pts)
	for i := 0; i+1 < n; i++ {
		drawLine(output, int(pts[i].X), int(pts[i].Y), int(pts[i+1].X), int(pts[i+1].Y), col, thickness, dash)
	}
	if closed && n > 2 {
		drawLine(output, int(pts[n-1].X), int(pts[n-1].Y), int(pts[0].X), int(pts[0].Y), col, thickness, dash)
	}
}

// drawCircle draws a filled disc, or a 2 pixel ring when filled is false.
func drawCircle(output *image.RGBA, cx, cy, r float64, col color.RGBA, filled bool) {
	r2 := r * r
	innerR2 := (r - 2) * (r - 2)

	for y := int(cy - r - 1); y <= int(cy+r+1); y++ {
		for x := int(cx - r - 1); x <= int(cx+r+1); x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			dist2 := dx*dx + dy*dy
			if dist2 > r2 {
				continue
			}
			if filled || dist2 >= innerR2 {
				set(output, x, y, col)
			}
		}
	}
}

// drawLabel draws text on a filled tag whose bottom-left corner is (x, y).
func drawLabel(output *image.RGBA, text string, x, y int, fg, bg color.RGBA) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: output, Src: image.NewUniform(fg), Face: face}
	width := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	height := metrics.Height.Ceil()

	tag := image.Rect(x, y-height-2, x+width+4, y)
	xdraw.Draw(output, tag.Intersect(output.Bounds()), image.NewUniform(bg), image.Point{}, xdraw.Src)

	d.Dot = fixed.P(x+2, y-1-metrics.Descent.Ceil())
	d.DrawString(text)
}
