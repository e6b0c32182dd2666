package canvas

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/viewport"
	"vision-annotator/internal/workspace"
	"vision-annotator/pkg/colorutil"
	"vision-annotator/pkg/geometry"
)

const (
	pointRadius = 5
	handleSize  = 4
)

// imageTransform maps source pixels of img to destination pixels under t.
// pixelScale converts canvas units to raster pixels.
func imageTransform(t viewport.Transform, bounds image.Rectangle, pixelScale float64) f64.Aff3 {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	sx := pixelScale * t.Scale * t.Width / w
	sy := pixelScale * t.Scale * t.Height / h
	return f64.Aff3{
		sx, 0, pixelScale*t.TranslateX - sx*float64(bounds.Min.X),
		0, sy, pixelScale*t.TranslateY - sy*float64(bounds.Min.Y),
	}
}

// Render draws one frame: the image under the view transform, stored shapes,
// suggestions, prompt points, the draft and the resize handles.
func Render(output *image.RGBA, img image.Image, scene workspace.Scene, pixelScale float64) {
	xdraw.Draw(output, output.Bounds(), image.NewUniform(background), image.Point{}, xdraw.Src)
	if pixelScale <= 0 {
		pixelScale = 1
	}

	if img != nil && !img.Bounds().Empty() && scene.Transform.Width > 0 {
		s2d := imageTransform(scene.Transform, img.Bounds(), pixelScale)
		var interp xdraw.Interpolator = xdraw.ApproxBiLinear
		if s2d[0] >= 2 {
			interp = xdraw.NearestNeighbor
		}
		interp.Transform(output, s2d, img, img.Bounds(), xdraw.Over, nil)
	}

	px := func(r geometry.Rect) image.Rectangle {
		return image.Rect(
			int(r.X*pixelScale), int(r.Y*pixelScale),
			int((r.X+r.Width)*pixelScale), int((r.Y+r.Height)*pixelScale),
		)
	}
	pts := func(in []geometry.Point2D) []geometry.Point2D {
		out := make([]geometry.Point2D, len(in))
		for i, p := range in {
			out[i] = p.Scale(pixelScale)
		}
		return out
	}

	for _, s := range scene.Shapes {
		st := shapeStyle(s.Color, s.Selected, s.Unsynced)
		r := px(s.Rect)
		if s.Kind == annotation.KindPolygon && len(s.Points) >= 3 {
			ring := pts(s.Points)
			fillPolygon(output, ring, st.Stroke, st.Fill)
			drawPolyline(output, ring, true, st.Stroke, st.Thickness, st.Dash)
		} else {
			fillRect(output, r, st.Stroke, st.Fill)
			drawRect(output, r, st.Stroke, st.Thickness, s.Unsynced)
		}
		drawLabel(output, s.Label, r.Min.X, r.Min.Y, colorutil.Black, st.Stroke)
	}

	for _, s := range scene.Suggestions {
		st := suggestionStyle(s.Hovered)
		r := px(s.Rect)
		if len(s.Polygon) >= 3 {
			ring := pts(s.Polygon)
			fillPolygon(output, ring, st.Stroke, st.Fill)
			drawPolyline(output, ring, true, st.Stroke, st.Thickness, 0)
			drawRect(output, r, st.Stroke, 1, true)
		} else {
			fillRect(output, r, st.Stroke, st.Fill)
			drawRect(output, r, st.Stroke, st.Thickness, true)
		}
		drawLabel(output, suggestionLabel(s), r.Min.X, r.Min.Y, colorutil.Black, st.Stroke)
	}

	for _, p := range scene.Points {
		c := p.Pos.Scale(pixelScale)
		col := colorutil.Green
		if !p.Positive {
			col = negativeRed
		}
		drawCircle(output, c.X, c.Y, pointRadius*pixelScale, col, true)
		drawCircle(output, c.X, c.Y, pointRadius*pixelScale+1, colorutil.White, false)
	}

	if pv := scene.Preview; pv != nil {
		st := previewStyle(pv.Color, pv.Prompt)
		if pv.Rect != nil {
			r := px(pv.Rect.Normalize())
			fillRect(output, r, st.Stroke, st.Fill)
			drawRect(output, r, st.Stroke, st.Thickness, true)
		} else if len(pv.Points) > 0 {
			ring := pts(pv.Points)
			drawPolyline(output, ring, false, st.Stroke, 2, 0)
			last := ring[len(ring)-1]
			cursor := pv.Cursor.Scale(pixelScale)
			drawLine(output, int(last.X), int(last.Y), int(cursor.X), int(cursor.Y), st.Stroke, 1, st.Dash)
			for _, v := range ring {
				drawCircle(output, v.X, v.Y, 3*pixelScale, st.Stroke, true)
			}
		}
	}

	for _, h := range scene.Handles {
		c := h.Scale(pixelScale)
		half := int(handleSize * pixelScale)
		r := image.Rect(int(c.X)-half, int(c.Y)-half, int(c.X)+half, int(c.Y)+half)
		fillRect(output, r, colorutil.White, 1)
		drawRect(output, r, colorutil.Black, 1, false)
	}
}

func suggestionLabel(s workspace.SuggestionItem) string {
	label := s.Label
	if label == "" {
		label = "?"
	}
	return fmt.Sprintf("%s %.0f%%", label, s.Confidence*100)
}
