package workspace

import (
	"fmt"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/drawing"
	"vision-annotator/internal/viewport"
	"vision-annotator/pkg/geometry"
	"vision-annotator/pkg/segmentation"
)

// Scene is one frame of the canvas in screen pixels. Layers are drawn in
// field order: shapes, then suggestions and prompt points, then the preview.
type Scene struct {
	Transform   viewport.Transform
	Shapes      []ShapeItem
	Suggestions []SuggestionItem
	Points      []PointItem
	Preview     *PreviewItem
	// Handles are the resize handles of the selected box.
	Handles []geometry.Point2D
}

type ShapeItem struct {
	ID       string
	Kind     annotation.Kind
	Label    string
	Color    string
	Rect     geometry.Rect
	Points   []geometry.Point2D
	Selected bool
	// Unsynced shapes have not been confirmed by the backend.
	Unsynced bool
}

type SuggestionItem struct {
	ID         string
	Label      string
	Confidence float64
	Rect       geometry.Rect
	Polygon    []geometry.Point2D
	Hovered    bool
}

type PointItem struct {
	Pos      geometry.Point2D
	Positive bool
}

// PreviewItem is the draft being drawn. Rect is set for boxes, Points for
// polygons; Cursor is the rubber-band end of an open polygon.
type PreviewItem struct {
	Rect   *geometry.Rect
	Points []geometry.Point2D
	Cursor geometry.Point2D
	Label  string
	Color  string
	// Prompt marks a box drag that will become a segmentation prompt.
	Prompt bool
}

func screenPoints(t viewport.Transform, pts []geometry.Point2D) []geometry.Point2D {
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = t.ToScreenSpace(p.X, p.Y)
	}
	return out
}

// Scene builds the current frame.
func (c *Compositor) Scene() Scene {
	t := c.view.Transform()
	scene := Scene{Transform: t}

	selected := ""
	for _, e := range c.store.Entries() {
		attrs := e.Shape.Attributes()
		item := ShapeItem{
			ID:       attrs.ID,
			Kind:     e.Shape.ShapeKind(),
			Label:    attrs.Label,
			Color:    attrs.Color,
			Rect:     t.ScreenRect(e.Shape.Bounds()).Normalize(),
			Selected: e.Selected,
			Unsynced: e.Sync == annotation.Unsynced,
		}
		if p, ok := e.Shape.(*annotation.Polygon); ok {
			item.Points = screenPoints(t, p.Points)
		}
		if e.Selected {
			selected = attrs.ID
		}
		scene.Shapes = append(scene.Shapes, item)
	}

	if selected != "" && c.machine.Tool() == drawing.ToolMove {
		if s, ok := c.store.Get(selected); ok && s.ShapeKind() == annotation.KindBox {
			r := t.ScreenRect(s.Bounds()).Normalize()
			for _, corner := range []geometry.Corner{geometry.CornerNW, geometry.CornerNE, geometry.CornerSW, geometry.CornerSE} {
				scene.Handles = append(scene.Handles, r.Corner(corner))
			}
		}
	}

	c.mu.Lock()
	hovered := c.hovered
	c.mu.Unlock()

	for _, s := range c.rec.Pending() {
		item := SuggestionItem{
			ID:         s.ID,
			Label:      s.SuggestedLabel,
			Confidence: s.Confidence,
			Rect:       t.ScreenRect(s.BBox).Normalize(),
			Hovered:    s.ID == hovered,
		}
		if len(s.Polygon) > 0 {
			item.Polygon = screenPoints(t, s.Polygon)
		}
		scene.Suggestions = append(scene.Suggestions, item)
	}

	for _, p := range c.sam.Points() {
		scene.Points = append(scene.Points, PointItem{
			Pos:      t.ToScreenSpace(p.X, p.Y),
			Positive: p.Label == segmentation.LabelPositive,
		})
	}

	if pv, ok := c.machine.Preview(); ok {
		item := &PreviewItem{
			Label:  pv.Label,
			Color:  pv.Color,
			Cursor: t.ToScreenSpace(pv.Cursor.X, pv.Cursor.Y),
			Prompt: c.Mode() == PromptBox && pv.Tool == drawing.ToolBox,
		}
		if pv.State == drawing.StateDrawing {
			r := t.ScreenRect(pv.Rect)
			item.Rect = &r
		} else {
			item.Points = screenPoints(t, pv.Points)
		}
		scene.Preview = item
	}
	return scene
}

// Status is the one-line summary shown under the canvas.
func (c *Compositor) Status() string {
	s := c.sam.Session()
	session := s.State.String()
	if s.IsActive() {
		session = s.Config.String()
	}
	busy := ""
	if c.sam.Processing() {
		busy = " | segmenting..."
	}
	return fmt.Sprintf("%s | prompt %s | zoom %.0f%% | %d shapes | %d pending | sam %s%s",
		c.machine.Tool(), c.Mode(), c.view.Transform().Scale*100,
		c.store.Len(), c.rec.Badge(), session, busy)
}
