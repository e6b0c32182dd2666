package drawing

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/viewport"
	"vision-annotator/pkg/colorutil"
	"vision-annotator/pkg/geometry"
)

const (
	// handleRadius is the pick radius of resize handles, in screen pixels.
	handleRadius = 8.0
	// closeRadius is how near the first vertex a click closes a polygon, in screen pixels.
	closeRadius = 10.0
	// duplicateEpsilon drops repeated vertices from the two clicks of a double-click.
	duplicateEpsilon = 1e-9
)

// Viewer supplies the current screen/image transform.
type Viewer interface {
	Transform() viewport.Transform
}

// Outcome says what a pointer or key event did.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeCommitted: a new shape is ready to be persisted.
	OutcomeCommitted
	// OutcomeCancelled: the in-progress draw was discarded.
	OutcomeCancelled
	// OutcomeRejected: the draw ended but failed validation.
	OutcomeRejected
	// OutcomeEdited: a move or resize of a stored shape finished.
	OutcomeEdited
	// OutcomeSelected: the selection changed without an edit.
	OutcomeSelected
)

// Result describes the effect of one input event.
type Result struct {
	Outcome Outcome
	// Shape is the new shape for OutcomeCommitted.
	Shape annotation.Shape
	// Rect is the normalized rectangle of a finished box drag, committed or not.
	Rect geometry.Rect
	// ShapeID is the edited or selected shape.
	ShapeID string
	Err     error
}

// Preview is the in-progress geometry to draw above everything else.
type Preview struct {
	Tool   Tool
	State  State
	Rect   geometry.Rect
	Points []geometry.Point2D
	Cursor geometry.Point2D
	Label  string
	Color  string
}

// Machine is the drawing state machine for box, polygon and move tools.
// Box and polygon drafts are owned by the machine until commit. Move and
// resize edits are written straight into the store on every pointer move.
type Machine struct {
	store *annotation.Store
	view  Viewer
	log   *logrus.Logger
	rng   *rand.Rand

	tool  Tool
	state State
	label string

	// box
	start geometry.Point2D
	rect  geometry.Rect

	// polygon
	points []geometry.Point2D
	cursor geometry.Point2D

	// move
	editID  string
	corner  geometry.Corner
	anchor  geometry.Point2D
	grab    geometry.Point2D
	origin  annotation.Shape
	touched bool
}

// NewMachine creates an idle machine with the box tool active.
func NewMachine(store *annotation.Store, view Viewer, log *logrus.Logger) *Machine {
	return &Machine{
		store: store,
		view:  view,
		log:   log,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		tool:  ToolBox,
		label: "object",
	}
}

// Tool returns the active tool.
func (m *Machine) Tool() Tool { return m.tool }

// State returns the current interaction state.
func (m *Machine) State() State { return m.state }

// Label returns the label given to new shapes.
func (m *Machine) Label() string { return m.label }

// SetLabel sets the label given to new shapes.
func (m *Machine) SetLabel(label string) {
	if label != "" {
		m.label = label
	}
}

// SetTool switches tools, cancelling any draw in progress.
func (m *Machine) SetTool(t Tool) Result {
	if t == m.tool {
		return Result{}
	}
	res := m.Cancel()
	m.tool = t
	m.log.WithFields(logrus.Fields{"tool": t.String()}).Debug("[drawing.SetTool] tool changed")
	return res
}

// Busy reports whether a gesture is in progress.
func (m *Machine) Busy() bool {
	return m.state != StateIdle
}

func (m *Machine) toImage(screen geometry.Point2D) geometry.Point2D {
	return m.view.Transform().ToImageSpace(screen.X, screen.Y)
}

func (m *Machine) tolerance(px float64) float64 {
	return m.view.Transform().ScreenDistance(px)
}

// PointerDown handles a primary-button press at a screen position.
func (m *Machine) PointerDown(screen geometry.Point2D) Result {
	switch m.tool {
	case ToolBox:
		return m.boxDown(screen)
	case ToolPolygon:
		return m.polygonClick(screen)
	case ToolMove:
		return m.moveDown(screen)
	}
	return Result{}
}

// PointerMove handles pointer motion with or without a button held.
func (m *Machine) PointerMove(screen geometry.Point2D) Result {
	switch m.tool {
	case ToolBox:
		if m.state == StateDrawing {
			p := m.toImage(screen).Clamp01()
			m.rect = geometry.RectFromCorners(m.start, p)
		}
	case ToolPolygon:
		m.cursor = m.toImage(screen).Clamp01()
	case ToolMove:
		m.moveMove(screen)
	}
	return Result{}
}

// PointerUp handles a primary-button release.
func (m *Machine) PointerUp(screen geometry.Point2D) Result {
	switch m.tool {
	case ToolBox:
		if m.state == StateDrawing {
			return m.boxUp(screen)
		}
	case ToolMove:
		return m.moveUp()
	}
	return Result{}
}

// DoubleClick closes an open polygon.
func (m *Machine) DoubleClick(screen geometry.Point2D) Result {
	if m.tool != ToolPolygon || m.state != StateAccumulating {
		return Result{}
	}
	m.appendVertex(m.toImage(screen).Clamp01())
	return m.Close()
}

// Close commits the open polygon if it has enough vertices.
func (m *Machine) Close() Result {
	if m.tool != ToolPolygon || m.state != StateAccumulating {
		return Result{Err: ErrNothingInProgress}
	}
	if len(m.points) < annotation.MinPolygonPoints {
		return Result{Err: ErrPolygonOpen}
	}

	poly := &annotation.Polygon{
		Attrs:  m.newAttrs(),
		Points: append([]geometry.Point2D(nil), m.points...),
	}
	m.resetDraft()
	if err := poly.Validate(); err != nil {
		return Result{Outcome: OutcomeRejected, Err: err}
	}

	m.log.WithFields(logrus.Fields{"id": poly.ID, "points": len(poly.Points)}).Debug("[drawing.Close] polygon committed")
	return Result{Outcome: OutcomeCommitted, Shape: poly, Rect: poly.Bounds(), ShapeID: poly.ID}
}

// Cancel discards the in-progress box or polygon. A move or resize in
// progress simply stops; the shape keeps its last position.
func (m *Machine) Cancel() Result {
	switch m.state {
	case StateIdle:
		return Result{}
	case StateDragging, StateResizing:
		id := m.editID
		touched := m.touched
		m.resetDraft()
		if touched {
			return Result{Outcome: OutcomeEdited, ShapeID: id}
		}
		return Result{}
	}
	m.resetDraft()
	return Result{Outcome: OutcomeCancelled}
}

// Preview returns the geometry to draw for the gesture in progress.
func (m *Machine) Preview() (Preview, bool) {
	pv := Preview{Tool: m.tool, State: m.state, Cursor: m.cursor, Label: m.label, Color: m.colorFor(m.label, false)}
	switch m.state {
	case StateDrawing:
		pv.Rect = m.rect
		return pv, true
	case StateAccumulating:
		pv.Points = append([]geometry.Point2D(nil), m.points...)
		return pv, true
	}
	return pv, false
}

// EditingID returns the shape being moved or resized, or "".
func (m *Machine) EditingID() string {
	return m.editID
}

func (m *Machine) boxDown(screen geometry.Point2D) Result {
	p := m.toImage(screen).Clamp01()
	m.state = StateDrawing
	m.start = p
	m.rect = geometry.Rect{X: p.X, Y: p.Y}
	return Result{}
}

func (m *Machine) boxUp(screen geometry.Point2D) Result {
	p := m.toImage(screen).Clamp01()
	raw := geometry.RectFromCorners(m.start, p)
	m.resetDraft()

	rect := raw.Normalize()
	if rect.Area() <= annotation.MinBoxArea {
		return Result{Outcome: OutcomeRejected, Rect: rect, Err: annotation.ErrBoxTooSmall}
	}

	b := &annotation.Box{Attrs: m.newAttrs(), Rect: rect}
	m.log.WithFields(logrus.Fields{"id": b.ID, "rect": rect}).Debug("[drawing.boxUp] box committed")
	return Result{Outcome: OutcomeCommitted, Shape: b, Rect: rect, ShapeID: b.ID}
}

func (m *Machine) polygonClick(screen geometry.Point2D) Result {
	p := m.toImage(screen).Clamp01()

	if m.state == StateAccumulating && len(m.points) >= annotation.MinPolygonPoints {
		if p.Distance(m.points[0]) <= m.tolerance(closeRadius) {
			return m.Close()
		}
	}

	m.state = StateAccumulating
	m.appendVertex(p)
	m.cursor = p
	return Result{}
}

func (m *Machine) appendVertex(p geometry.Point2D) {
	if n := len(m.points); n > 0 && m.points[n-1].Distance(p) <= duplicateEpsilon {
		return
	}
	m.points = append(m.points, p)
}

func (m *Machine) moveDown(screen geometry.Point2D) Result {
	p := m.toImage(screen)

	if sel := m.store.Selected(); sel != "" {
		if shape, ok := m.store.Get(sel); ok {
			if b, isBox := shape.(*annotation.Box); isBox {
				if c, hit := HandleAt(b.Bounds(), p, m.tolerance(handleRadius)); hit {
					m.state = StateResizing
					m.editID = sel
					m.corner = c
					m.anchor = b.Bounds().Corner(c.Opposite())
					m.origin = shape
					m.touched = false
					return Result{}
				}
			}
		}
	}

	id := m.store.HitTest(p, m.tolerance(2))
	prev := m.store.Selected()
	_ = m.store.Select(id)
	if id == "" {
		if prev != "" {
			return Result{Outcome: OutcomeSelected}
		}
		return Result{}
	}

	shape, _ := m.store.Get(id)
	m.state = StateDragging
	m.editID = id
	m.grab = p
	m.origin = shape
	m.touched = false
	return Result{Outcome: OutcomeSelected, ShapeID: id}
}

func (m *Machine) moveMove(screen geometry.Point2D) {
	switch m.state {
	case StateDragging:
		d := m.toImage(screen).Sub(m.grab)
		var patch annotation.Patch
		switch s := m.origin.(type) {
		case *annotation.Box:
			patch = annotation.RectPatch(s.Rect.Translate(d))
		case *annotation.Polygon:
			patch = annotation.Patch{Points: geometry.TranslatePoints(s.Points, d)}
		}
		if err := m.store.Update(m.editID, patch); err == nil {
			m.touched = true
		}
	case StateResizing:
		p := m.toImage(screen).Clamp01()
		if err := m.store.Update(m.editID, annotation.RectPatch(Resize(m.anchor, p))); err == nil {
			m.touched = true
		}
	}
}

func (m *Machine) moveUp() Result {
	if m.state != StateDragging && m.state != StateResizing {
		return Result{}
	}
	id, state, touched, origin := m.editID, m.state, m.touched, m.origin
	m.resetDraft()
	if !touched {
		return Result{}
	}

	if state == StateResizing {
		shape, ok := m.store.Get(id)
		if !ok {
			return Result{}
		}
		r := shape.(*annotation.Box).Rect.Normalize()
		if r.Area() <= annotation.MinBoxArea {
			r = origin.(*annotation.Box).Rect
		}
		if err := m.store.Update(id, annotation.RectPatch(r)); err != nil {
			return Result{Err: err}
		}
	}
	return Result{Outcome: OutcomeEdited, ShapeID: id}
}

// Resize returns the box spanned from the fixed anchor corner to p. The anchor
// is stored as the rectangle origin, so it stays exact while the drag is in
// progress even when p crosses it.
func Resize(anchor, p geometry.Point2D) geometry.Rect {
	return geometry.RectFromCorners(anchor, p)
}

// HandleAt returns the corner of r within tolerance of p.
func HandleAt(r geometry.Rect, p geometry.Point2D, tolerance float64) (geometry.Corner, bool) {
	best, bestDist := geometry.CornerNW, tolerance
	found := false
	for _, c := range []geometry.Corner{geometry.CornerNW, geometry.CornerNE, geometry.CornerSW, geometry.CornerSE} {
		if d := r.Corner(c).Distance(p); d <= bestDist {
			best, bestDist, found = c, d, true
		}
	}
	return best, found
}

func (m *Machine) newAttrs() annotation.Attrs {
	return annotation.Attrs{
		ID:         annotation.NewID(),
		Label:      m.label,
		Color:      m.colorFor(m.label, true),
		Source:     annotation.SourceManual,
		Confidence: 1,
	}
}

func (m *Machine) colorFor(label string, allowRandom bool) string {
	if c := colorutil.ForLabel(label); c != "" {
		return c
	}
	if allowRandom {
		return colorutil.Random(m.rng)
	}
	return colorutil.ToHex(colorutil.Yellow)
}

func (m *Machine) resetDraft() {
	m.state = StateIdle
	m.start = geometry.Point2D{}
	m.rect = geometry.Rect{}
	m.points = nil
	m.editID = ""
	m.origin = nil
	m.touched = false
}
