package viewport

import (
	"math"

	"vision-annotator/pkg/geometry"
)

const (
	defaultMinScale = 0.1
	defaultMaxScale = 10.0
	defaultZoomStep = 0.25
)

// Limits bounds the zoom scale and sets the per-tick zoom step.
type Limits struct {
	MinScale float64
	MaxScale float64
	Step     float64
}

// DefaultLimits returns the standard zoom range.
func DefaultLimits() Limits {
	return Limits{MinScale: defaultMinScale, MaxScale: defaultMaxScale, Step: defaultZoomStep}
}

// Modifiers is the keyboard modifier state at the time of an input event.
type Modifiers struct {
	Ctrl  bool
	Alt   bool
	Shift bool
	Super bool
}

// Button identifies a pointer button.
type Button int

const (
	ButtonLeft Button = iota
	ButtonMiddle
	ButtonRight
)

// Controller tracks the pan/zoom transform. It is driven purely by input
// events; there are no timers or animation.
type Controller struct {
	limits Limits
	t      Transform

	panning bool
	last    geometry.Point2D

	onChange []func(Transform)
}

// NewController creates a controller at scale 1 with no translation.
func NewController(limits Limits) *Controller {
	def := DefaultLimits()
	if limits.MinScale <= 0 {
		limits.MinScale = def.MinScale
	}
	if limits.MaxScale < limits.MinScale {
		limits.MaxScale = math.Max(def.MaxScale, limits.MinScale)
	}
	if limits.Step <= 0 {
		limits.Step = def.Step
	}
	return &Controller{
		limits: limits,
		t:      Transform{Scale: clampScale(1, limits)},
	}
}

// Limits returns the configured zoom limits.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Transform returns the current transform descriptor.
func (c *Controller) Transform() Transform {
	return c.t
}

// OnChange registers a callback invoked after every transform change.
func (c *Controller) OnChange(fn func(Transform)) {
	c.onChange = append(c.onChange, fn)
}

// FitImage resets the view so an image of imgW x imgH pixels is letterboxed
// and centered in a viewW x viewH viewport at scale 1.
func (c *Controller) FitImage(imgW, imgH, viewW, viewH float64) {
	c.panning = false
	if imgW <= 0 || imgH <= 0 || viewW <= 0 || viewH <= 0 {
		c.set(Transform{Scale: clampScale(1, c.limits)})
		return
	}
	fit := math.Min(viewW/imgW, viewH/imgH)
	w, h := imgW*fit, imgH*fit
	scale := clampScale(1, c.limits)
	c.set(Transform{
		Scale:      scale,
		TranslateX: (viewW - w*scale) / 2,
		TranslateY: (viewH - h*scale) / 2,
		Width:      w,
		Height:     h,
	})
}

// OnWheel handles one wheel tick. dy > 0 zooms in, dy < 0 zooms out.
// The event is consumed only when Ctrl is held; otherwise it returns false
// and the caller should let it scroll normally.
func (c *Controller) OnWheel(dy float64, cursor geometry.Point2D, mods Modifiers) bool {
	if !mods.Ctrl {
		return false
	}
	switch {
	case dy > 0:
		c.ZoomAt(cursor, 1+c.limits.Step)
	case dy < 0:
		c.ZoomAt(cursor, 1/(1+c.limits.Step))
	}
	return true
}

// ZoomAt multiplies the scale by factor, keeping the screen point under
// cursor fixed. The resulting scale is clamped to the limits.
func (c *Controller) ZoomAt(cursor geometry.Point2D, factor float64) {
	old := c.t.Scale
	next := clampScale(old*factor, c.limits)
	if next == old || old == 0 {
		return
	}
	ratio := next / old
	t := c.t
	t.Scale = next
	t.TranslateX = cursor.X - (cursor.X-t.TranslateX)*ratio
	t.TranslateY = cursor.Y - (cursor.Y-t.TranslateY)*ratio
	c.set(t)
}

// SetScale sets an absolute scale anchored at cursor.
func (c *Controller) SetScale(scale float64, cursor geometry.Point2D) {
	if c.t.Scale == 0 {
		return
	}
	c.ZoomAt(cursor, scale/c.t.Scale)
}

// IsPanGesture reports whether a pointer-down with this button and modifiers starts a pan.
func IsPanGesture(button Button, mods Modifiers) bool {
	return button == ButtonMiddle || mods.Alt
}

// OnDragStart begins a pan if the gesture qualifies and reports whether it did.
func (c *Controller) OnDragStart(pos geometry.Point2D, button Button, mods Modifiers) bool {
	if !IsPanGesture(button, mods) {
		return false
	}
	c.panning = true
	c.last = pos
	return true
}

// OnDragMove translates by the pointer delta while panning.
func (c *Controller) OnDragMove(pos geometry.Point2D) bool {
	if !c.panning {
		return false
	}
	d := pos.Sub(c.last)
	c.last = pos
	c.PanBy(d.X, d.Y)
	return true
}

// OnDragEnd finishes a pan.
func (c *Controller) OnDragEnd() bool {
	was := c.panning
	c.panning = false
	return was
}

// Panning reports whether a pan drag is in progress.
func (c *Controller) Panning() bool {
	return c.panning
}

// PanBy translates the view. Translation is unbounded.
func (c *Controller) PanBy(dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	t := c.t
	t.TranslateX += dx
	t.TranslateY += dy
	c.set(t)
}

func (c *Controller) set(t Transform) {
	c.t = t
	for _, fn := range c.onChange {
		fn(t)
	}
}

func clampScale(s float64, l Limits) float64 {
	return math.Max(l.MinScale, math.Min(l.MaxScale, s))
}
