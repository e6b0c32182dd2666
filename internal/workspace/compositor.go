// Package workspace wires the viewport, drawing machine, annotation store,
// persistence bridge and suggestion session into one canvas controller.
// It is toolkit independent; the fyne widget feeds it pointer and key events
// in screen pixels and draws the Scene it produces.
package workspace

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/drawing"
	"vision-annotator/internal/notify"
	"vision-annotator/internal/reconcile"
	"vision-annotator/internal/sam"
	"vision-annotator/internal/viewport"
	"vision-annotator/pkg/geometry"
	"vision-annotator/pkg/segmentation"
)

// Persister is the part of the persistence bridge the compositor drives.
type Persister interface {
	Attach(projectID, imageID string)
	Load(ctx context.Context) error
	// Stage and Discard change the store at once and return the request to send.
	Stage(shape annotation.Shape) (func(ctx context.Context) error, error)
	Discard(id string, softDelete bool) (func(ctx context.Context) error, error)
	Save(ctx context.Context, id string) error
	Flush(ctx context.Context) error
}

// PromptMode selects what canvas clicks send to the segmentation session.
type PromptMode int

const (
	// PromptNone: clicks draw shapes.
	PromptNone PromptMode = iota
	// PromptPoint: clicks add prompt points and segment.
	PromptPoint
	// PromptBox: box drags become segmentation prompts instead of shapes.
	PromptBox
)

func (m PromptMode) String() string {
	switch m {
	case PromptPoint:
		return "point"
	case PromptBox:
		return "box"
	default:
		return "none"
	}
}

// Key names as delivered by the toolkit.
const (
	KeyDelete    = "Delete"
	KeyEscape    = "Escape"
	KeyReturn    = "Return"
	KeyEnter     = "KP_Enter"
	KeyBackspace = "BackSpace"
)

// Options configure a Compositor.
type Options struct {
	// Run executes network work. The default runs it on a new goroutine so
	// input handling never waits on a request.
	Run func(func())
	// Context is the parent of every background request.
	Context context.Context
}

// Compositor dispatches canvas input to the pan/zoom controller or the
// drawing machine and turns the results into store, persistence and
// segmentation calls.
type Compositor struct {
	store    *annotation.Store
	view     *viewport.Controller
	machine  *drawing.Machine
	persist  Persister
	sam      *sam.Manager
	rec      *reconcile.Reconciler
	notifier notify.Notifier
	log      *logrus.Logger
	run      func(func())
	ctx      context.Context

	mu       sync.Mutex
	mode     PromptMode
	hovered  string
	viewW    float64
	viewH    float64
	imgW     float64
	imgH     float64
	fitted   bool
	onChange []func()
}

func New(store *annotation.Store, view *viewport.Controller, persist Persister, mgr *sam.Manager, rec *reconcile.Reconciler,
	notifier notify.Notifier, log *logrus.Logger, opts Options) *Compositor {
	if opts.Run == nil {
		opts.Run = func(fn func()) { go fn() }
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	c := &Compositor{
		store:    store,
		view:     view,
		machine:  drawing.NewMachine(store, view, log),
		persist:  persist,
		sam:      mgr,
		rec:      rec,
		notifier: notifier,
		log:      log,
		run:      opts.Run,
		ctx:      opts.Context,
	}

	changed := func(interface{}) { c.changed() }
	for ev := annotation.EventShapeAdded; ev <= annotation.EventReset; ev++ {
		store.On(ev, changed)
	}
	for ev := sam.EventSessionChanged; ev <= sam.EventProcessingChanged; ev++ {
		mgr.On(ev, changed)
	}
	view.OnChange(func(viewport.Transform) { c.changed() })
	return c
}

// OnChange registers a redraw request listener.
func (c *Compositor) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

func (c *Compositor) changed() {
	c.mu.Lock()
	listeners := append([]func(){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (c *Compositor) Machine() *drawing.Machine { return c.machine }
func (c *Compositor) View() *viewport.Controller { return c.view }
func (c *Compositor) Session() *sam.Manager { return c.sam }
func (c *Compositor) Reconciler() *reconcile.Reconciler { return c.rec }
func (c *Compositor) Store() *annotation.Store { return c.store }

func (c *Compositor) Mode() PromptMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode changes the prompt mode, cancelling any draw in progress.
func (c *Compositor) SetMode(m PromptMode) {
	c.mu.Lock()
	same := c.mode == m
	c.mode = m
	c.mu.Unlock()
	if same {
		return
	}
	c.handle(c.machine.Cancel())
	if m == PromptBox {
		c.handle(c.machine.SetTool(drawing.ToolBox))
	}
	c.changed()
}

// SetTool switches the drawing tool. A tool switch mid-draw cancels the draw.
func (c *Compositor) SetTool(t drawing.Tool) {
	c.handle(c.machine.SetTool(t))
	c.changed()
}

// SetLabel sets the label of newly drawn shapes.
func (c *Compositor) SetLabel(label string) {
	c.machine.SetLabel(label)
}

// Open binds the canvas to a new image: the draft, sync guard, prompts and
// suggestions are reset and the image's annotations are loaded.
func (c *Compositor) Open(projectID, imageID string, imgW, imgH float64) {
	c.machine.Cancel()

	c.mu.Lock()
	c.imgW, c.imgH = imgW, imgH
	c.hovered = ""
	viewW, viewH := c.viewW, c.viewH
	c.fitted = true
	c.mu.Unlock()

	c.view.FitImage(imgW, imgH, viewW, viewH)
	c.persist.Attach(projectID, imageID)
	c.sam.SetImage(imageID)

	c.run(func() {
		if err := c.persist.Load(c.ctx); err != nil {
			c.log.WithFields(logrus.Fields{"image_id": imageID, "error": err.Error()}).Debug("[workspace.Open] load did not apply")
		}
	})
	c.changed()
}

// Resize records the canvas size. The image is refitted until the user
// pans or zooms.
func (c *Compositor) Resize(viewW, viewH float64) {
	c.mu.Lock()
	if viewW == c.viewW && viewH == c.viewH {
		c.mu.Unlock()
		return
	}
	c.viewW, c.viewH = viewW, viewH
	refit := c.fitted
	imgW, imgH := c.imgW, c.imgH
	c.mu.Unlock()

	if refit {
		c.view.FitImage(imgW, imgH, viewW, viewH)
	}
}

// Fit resets pan and zoom.
func (c *Compositor) Fit() {
	c.mu.Lock()
	c.fitted = true
	imgW, imgH, viewW, viewH := c.imgW, c.imgH, c.viewW, c.viewH
	c.mu.Unlock()
	c.view.FitImage(imgW, imgH, viewW, viewH)
}

func (c *Compositor) userMoved() {
	c.mu.Lock()
	c.fitted = false
	c.mu.Unlock()
}

// Flush ends any move in progress and saves every unsaved shape. It runs
// before the displayed image changes. Save failures are toasted by the
// bridge and also returned.
func (c *Compositor) Flush(ctx context.Context) error {
	res := c.machine.Cancel()
	if res.Outcome == drawing.OutcomeEdited {
		c.log.WithFields(logrus.Fields{"id": res.ShapeID}).Debug("[workspace.Flush] finished edit in progress")
		_ = c.persist.Save(ctx, res.ShapeID)
	}
	return c.persist.Flush(ctx)
}

func (c *Compositor) toImage(pos geometry.Point2D) geometry.Point2D {
	return c.view.Transform().ToImageSpace(pos.X, pos.Y)
}

// PointerDown dispatches a button press. Pan gestures go to the viewport;
// everything else goes to the prompt handler or the active tool.
func (c *Compositor) PointerDown(pos geometry.Point2D, button viewport.Button, mods viewport.Modifiers) {
	if c.view.OnDragStart(pos, button, mods) {
		c.userMoved()
		return
	}

	mode := c.Mode()
	if button == viewport.ButtonRight {
		if mode == PromptPoint {
			c.addPoint(pos, segmentation.LabelNegative)
		}
		return
	}
	if button != viewport.ButtonLeft {
		return
	}

	if mode == PromptPoint {
		label := segmentation.LabelPositive
		if mods.Shift {
			label = segmentation.LabelNegative
		}
		c.addPoint(pos, label)
		return
	}

	if !c.machine.Busy() {
		if s, ok := c.rec.At(c.toImage(pos)); ok {
			c.accept(s.ID)
			return
		}
	}
	c.handle(c.machine.PointerDown(pos))
	c.changed()
}

func (c *Compositor) PointerMove(pos geometry.Point2D) {
	if c.view.OnDragMove(pos) {
		return
	}

	hovered := ""
	if s, ok := c.rec.At(c.toImage(pos)); ok {
		hovered = s.ID
	}
	c.mu.Lock()
	hoverChanged := hovered != c.hovered
	c.hovered = hovered
	c.mu.Unlock()

	busy := c.machine.Busy() || c.machine.State() == drawing.StateAccumulating
	c.handle(c.machine.PointerMove(pos))
	if busy || hoverChanged || c.machine.Tool() == drawing.ToolPolygon {
		c.changed()
	}
}

func (c *Compositor) PointerUp(pos geometry.Point2D, button viewport.Button) {
	if c.view.OnDragEnd() {
		return
	}
	if button != viewport.ButtonLeft {
		return
	}
	c.handle(c.machine.PointerUp(pos))
	c.changed()
}

func (c *Compositor) DoubleClick(pos geometry.Point2D) {
	c.handle(c.machine.DoubleClick(pos))
	c.changed()
}

// Wheel zooms when Ctrl is held and reports whether the event was used.
func (c *Compositor) Wheel(dy float64, pos geometry.Point2D, mods viewport.Modifiers) bool {
	if !c.view.OnWheel(dy, pos, mods) {
		return false
	}
	c.userMoved()
	return true
}

// Key handles the canvas hotkeys and reports whether key was used.
func (c *Compositor) Key(key string) bool {
	switch key {
	case KeyEscape:
		res := c.machine.Cancel()
		if res.Outcome == drawing.OutcomeNone && c.Mode() == PromptPoint {
			c.sam.ClearPoints()
		}
		c.handle(res)
	case KeyDelete:
		c.deleteSelected()
	case KeyReturn, KeyEnter:
		s, ok := c.target()
		if !ok {
			return false
		}
		c.accept(s.ID)
	case KeyBackspace:
		s, ok := c.target()
		if !ok {
			return false
		}
		c.rec.RejectOne(s.ID)
	default:
		t, ok := drawing.ToolForKey(key)
		if !ok {
			return false
		}
		c.SetTool(t)
		return true
	}
	c.changed()
	return true
}

func (c *Compositor) target() (sam.Suggestion, bool) {
	c.mu.Lock()
	hovered := c.hovered
	c.mu.Unlock()
	return c.rec.Target(hovered)
}

// handle applies the side effects of a drawing machine result.
func (c *Compositor) handle(res drawing.Result) {
	switch res.Outcome {
	case drawing.OutcomeCommitted:
		if box, ok := res.Shape.(*annotation.Box); ok && c.Mode() == PromptBox {
			c.segmentBox(box.Rect)
			return
		}
		send, err := c.persist.Stage(res.Shape)
		if err != nil {
			return
		}
		c.run(func() { _ = send(c.ctx) })
	case drawing.OutcomeEdited:
		id := res.ShapeID
		c.run(func() { _ = c.persist.Save(c.ctx, id) })
	case drawing.OutcomeRejected:
		// A click without a drag is not worth a toast.
		if res.Rect.Area() > 0 {
			notify.Error(c.notifier, "Shape not added", res.Err)
		}
	default:
		if res.Err != nil && !errors.Is(res.Err, drawing.ErrNothingInProgress) {
			notify.Error(c.notifier, "Drawing", res.Err)
		}
	}
}

func (c *Compositor) deleteSelected() {
	id := c.store.Selected()
	if id == "" || c.machine.EditingID() == id {
		return
	}
	del, err := c.persist.Discard(id, true)
	if err != nil {
		return
	}
	c.run(func() { _ = del(c.ctx) })
}

func (c *Compositor) addPoint(pos geometry.Point2D, label int) {
	p := c.toImage(pos)
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		return
	}
	if err := c.sam.AddPoint(segmentation.Point{X: p.X, Y: p.Y, Label: label}); err != nil {
		notify.Error(c.notifier, "Point not added", err)
		return
	}
	c.run(func() { _, _ = c.sam.SegmentWithPoints(c.ctx) })
}

func (c *Compositor) segmentBox(r geometry.Rect) {
	c.run(func() { _, _ = c.sam.SegmentWithBox(c.ctx, r) })
}

func (c *Compositor) accept(id string) {
	c.run(func() { _, _, _ = c.rec.AcceptOne(c.ctx, id) })
}

// AcceptAll accepts every pending suggestion.
func (c *Compositor) AcceptAll() {
	c.run(func() { _, _ = c.rec.AcceptAll(c.ctx) })
}

// RejectAll discards every pending suggestion.
func (c *Compositor) RejectAll() {
	c.rec.RejectAll()
}

// SegmentText asks for regions matching text.
func (c *Compositor) SegmentText(text string) {
	c.run(func() { _, _ = c.sam.SegmentWithText(c.ctx, text) })
}

// FindSimilar asks for regions resembling the selected shape.
func (c *Compositor) FindSimilar() {
	id := c.store.Selected()
	c.run(func() { _, _ = c.sam.SegmentSimilar(c.ctx, id) })
}

// Propagate proposes the annotations of sourceImageID on this image.
func (c *Compositor) Propagate(sourceImageID string) {
	c.run(func() { _, _ = c.sam.PropagateFromPrevious(c.ctx, sourceImageID) })
}
