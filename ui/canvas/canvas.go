// Package canvas provides the annotation canvas widget: a raster that draws
// the workspace scene and forwards pointer and key input to the compositor.
package canvas

import (
	"image"
	"sync"

	"fyne.io/fyne/v2"
	fynecanvas "fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"vision-annotator/internal/viewport"
	"vision-annotator/internal/workspace"
	"vision-annotator/pkg/geometry"
)

// AnnotationCanvas displays one image with its annotations and suggestions.
type AnnotationCanvas struct {
	widget.BaseWidget

	comp   *workspace.Compositor
	log    *logrus.Logger
	raster *fynecanvas.Raster

	mu      sync.Mutex
	img     image.Image
	output  *image.RGBA
	pressed bool
	button  viewport.Button
	mods    viewport.Modifiers
	last    geometry.Point2D

	onStatus func(string)
}

var (
	_ desktop.Mouseable   = (*AnnotationCanvas)(nil)
	_ desktop.Hoverable   = (*AnnotationCanvas)(nil)
	_ fyne.Draggable      = (*AnnotationCanvas)(nil)
	_ fyne.Scrollable     = (*AnnotationCanvas)(nil)
	_ fyne.DoubleTappable = (*AnnotationCanvas)(nil)
	_ fyne.Focusable      = (*AnnotationCanvas)(nil)
)

// NewAnnotationCanvas creates a canvas bound to comp. It redraws whenever
// the compositor reports a change.
func NewAnnotationCanvas(comp *workspace.Compositor, log *logrus.Logger) *AnnotationCanvas {
	c := &AnnotationCanvas{comp: comp, log: log}
	c.raster = fynecanvas.NewRaster(c.draw)
	c.raster.ScaleMode = fynecanvas.ImageScalePixels
	c.ExtendBaseWidget(c)

	comp.OnChange(func() {
		c.raster.Refresh()
		c.mu.Lock()
		onStatus := c.onStatus
		c.mu.Unlock()
		if onStatus != nil {
			onStatus(comp.Status())
		}
	})
	return c
}

// SetImage replaces the displayed image. The compositor must be opened on
// the same image separately.
func (c *AnnotationCanvas) SetImage(img image.Image) {
	c.mu.Lock()
	c.img = img
	c.mu.Unlock()
	c.raster.Refresh()
}

// OnStatus registers a callback for the status line.
func (c *AnnotationCanvas) OnStatus(fn func(string)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

func (c *AnnotationCanvas) draw(w, h int) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.output == nil || c.output.Bounds().Dx() != w || c.output.Bounds().Dy() != h {
		c.output = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	pixelScale := 1.0
	if size := c.Size(); size.Width > 0 {
		pixelScale = float64(w) / float64(size.Width)
	}
	Render(c.output, c.img, c.comp.Scene(), pixelScale)
	return c.output
}

func toPoint(p fyne.Position) geometry.Point2D {
	return geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
}

func toModifiers(m fyne.KeyModifier) viewport.Modifiers {
	return viewport.Modifiers{
		Ctrl:  m&fyne.KeyModifierControl != 0,
		Alt:   m&fyne.KeyModifierAlt != 0,
		Shift: m&fyne.KeyModifierShift != 0,
		Super: m&fyne.KeyModifierSuper != 0,
	}
}

func toButton(b desktop.MouseButton) viewport.Button {
	switch b {
	case desktop.MouseButtonSecondary:
		return viewport.ButtonRight
	case desktop.MouseButtonTertiary:
		return viewport.ButtonMiddle
	default:
		return viewport.ButtonLeft
	}
}

// MouseDown implements desktop.Mouseable.
func (c *AnnotationCanvas) MouseDown(ev *desktop.MouseEvent) {
	if cv := fyne.CurrentApp().Driver().CanvasForObject(c); cv != nil {
		cv.Focus(c)
	}

	pos := toPoint(ev.Position)
	button := toButton(ev.Button)
	mods := toModifiers(ev.Modifier)

	c.mu.Lock()
	c.pressed = true
	c.button = button
	c.mods = mods
	c.last = pos
	c.mu.Unlock()

	c.comp.PointerDown(pos, button, mods)
}

// MouseUp implements desktop.Mouseable.
func (c *AnnotationCanvas) MouseUp(ev *desktop.MouseEvent) {
	c.release(toPoint(ev.Position))
}

// release finishes a press once; fyne may report the end of a drag through
// both DragEnd and MouseUp.
func (c *AnnotationCanvas) release(pos geometry.Point2D) {
	c.mu.Lock()
	if !c.pressed {
		c.mu.Unlock()
		return
	}
	c.pressed = false
	button := c.button
	c.mu.Unlock()

	c.comp.PointerUp(pos, button)
}

// MouseIn implements desktop.Hoverable.
func (c *AnnotationCanvas) MouseIn(ev *desktop.MouseEvent) {
	c.MouseMoved(ev)
}

// MouseMoved implements desktop.Hoverable.
func (c *AnnotationCanvas) MouseMoved(ev *desktop.MouseEvent) {
	pos := toPoint(ev.Position)
	c.mu.Lock()
	c.mods = toModifiers(ev.Modifier)
	c.last = pos
	c.mu.Unlock()
	c.comp.PointerMove(pos)
}

// MouseOut implements desktop.Hoverable.
func (c *AnnotationCanvas) MouseOut() {}

// Dragged implements fyne.Draggable.
func (c *AnnotationCanvas) Dragged(ev *fyne.DragEvent) {
	pos := toPoint(ev.Position)
	c.mu.Lock()
	c.last = pos
	c.mu.Unlock()
	c.comp.PointerMove(pos)
}

// DragEnd implements fyne.Draggable.
func (c *AnnotationCanvas) DragEnd() {
	c.mu.Lock()
	pos := c.last
	c.mu.Unlock()
	c.release(pos)
}

// Scrolled zooms with Ctrl held. Scroll events carry no modifiers, so the
// keyboard state is read from the driver.
func (c *AnnotationCanvas) Scrolled(ev *fyne.ScrollEvent) {
	c.mu.Lock()
	cached := c.mods
	c.mu.Unlock()
	mods := wheelModifiers(cached, driverModifiers)
	c.comp.Wheel(float64(ev.Scrolled.DY), toPoint(ev.Position), mods)
}

// driverModifiers returns the keys held right now, when the driver knows them.
func driverModifiers() (fyne.KeyModifier, bool) {
	a := fyne.CurrentApp()
	if a == nil {
		return 0, false
	}
	d, ok := a.Driver().(desktop.Driver)
	if !ok {
		return 0, false
	}
	return d.CurrentKeyModifiers(), true
}

// wheelModifiers prefers the live keyboard state and falls back to the
// modifiers of the last mouse event.
func wheelModifiers(cached viewport.Modifiers, live func() (fyne.KeyModifier, bool)) viewport.Modifiers {
	if m, ok := live(); ok {
		return toModifiers(m)
	}
	return cached
}

// DoubleTapped closes an open polygon.
func (c *AnnotationCanvas) DoubleTapped(ev *fyne.PointEvent) {
	c.comp.DoubleClick(toPoint(ev.Position))
}

func (c *AnnotationCanvas) FocusGained() {}
func (c *AnnotationCanvas) FocusLost() {}
func (c *AnnotationCanvas) TypedRune(r rune) {}

// TypedKey forwards hotkeys to the compositor.
func (c *AnnotationCanvas) TypedKey(ev *fyne.KeyEvent) {
	if !c.comp.Key(string(ev.Name)) {
		c.log.WithFields(logrus.Fields{"key": ev.Name}).Debug("[canvas.TypedKey] unhandled key")
	}
}

// CreateRenderer implements fyne.Widget.
func (c *AnnotationCanvas) CreateRenderer() fyne.WidgetRenderer {
	return &annotationCanvasRenderer{canvas: c}
}

type annotationCanvasRenderer struct {
	canvas *AnnotationCanvas
}

func (r *annotationCanvasRenderer) Layout(size fyne.Size) {
	r.canvas.raster.Resize(size)
	r.canvas.comp.Resize(float64(size.Width), float64(size.Height))
}

func (r *annotationCanvasRenderer) MinSize() fyne.Size {
	return fyne.NewSize(200, 150)
}

func (r *annotationCanvasRenderer) Refresh() {
	r.canvas.raster.Refresh()
}

func (r *annotationCanvasRenderer) Objects() []fyne.CanvasObject {
	return []fyne.CanvasObject{r.canvas.raster}
}

func (r *annotationCanvasRenderer) Destroy() {}
