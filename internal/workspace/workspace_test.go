package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/drawing"
	"vision-annotator/internal/notify"
	"vision-annotator/internal/persist"
	"vision-annotator/internal/reconcile"
	"vision-annotator/internal/sam"
	"vision-annotator/internal/viewport"
	"vision-annotator/pkg/geometry"
	"vision-annotator/pkg/platform"
	"vision-annotator/pkg/segmentation"
)

const eps = 1e-9

type fakeAPI struct {
	mu        sync.Mutex
	lists     map[string][]platform.Annotation
	createErr error
	created   []platform.Annotation
	imageIDs  []string
	batches   [][]platform.Annotation
	updated   []platform.Annotation
	deleted   []string
	hard      []bool
}

func (a *fakeAPI) ListAnnotations(ctx context.Context, projectID, imageID string) ([]platform.Annotation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lists[imageID], nil
}

func (a *fakeAPI) CreateAnnotation(ctx context.Context, projectID, imageID string, ann platform.Annotation) (*platform.Annotation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return nil, a.createErr
	}
	a.created = append(a.created, ann)
	a.imageIDs = append(a.imageIDs, imageID)
	return &ann, nil
}

func (a *fakeAPI) CreateAnnotations(ctx context.Context, projectID, imageID string, list []platform.Annotation) ([]platform.Annotation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, list)
	return list, nil
}

func (a *fakeAPI) UpdateAnnotation(ctx context.Context, projectID string, ann platform.Annotation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updated = append(a.updated, ann)
	return nil
}

func (a *fakeAPI) DeleteAnnotation(ctx context.Context, projectID, annotationID string, hardDelete bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, annotationID)
	a.hard = append(a.hard, hardDelete)
	return nil
}

type fakeSegmenter struct {
	mu       sync.Mutex
	results  map[segmentation.Kind][]segmentation.Result
	requests []segmentation.Request
}

func (s *fakeSegmenter) StartSession(ctx context.Context, cfg segmentation.ModelConfig) (string, error) {
	return "sess-1", nil
}

func (s *fakeSegmenter) Segment(ctx context.Context, sessionID string, req segmentation.Request) ([]segmentation.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.results[req.Kind], nil
}

func (s *fakeSegmenter) EndSession(ctx context.Context, sessionID string) error { return nil }

func (s *fakeSegmenter) last() segmentation.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type harness struct {
	c     *Compositor
	store *annotation.Store
	api   *fakeAPI
	seg   *fakeSegmenter
	mgr   *sam.Manager
	toast *notify.Recorder
}

// newHarness opens a 1000x1000 image in a 1000x1000 canvas, so one screen
// pixel is exactly 0.001 in image space.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessRun(t, func(fn func()) { fn() })
}

func newHarnessRun(t *testing.T, run func(func())) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	toast := &notify.Recorder{}
	store := annotation.NewStore()
	api := &fakeAPI{lists: map[string][]platform.Annotation{}}
	bridge := persist.NewBridge(api, store, toast, logger)
	seg := &fakeSegmenter{results: map[segmentation.Kind][]segmentation.Result{}}
	mgr := sam.NewManager(seg, bridge, toast, logger, sam.DefaultOptions())
	rec := reconcile.New(mgr, store, logger)
	view := viewport.NewController(viewport.DefaultLimits())

	c := New(store, view, bridge, mgr, rec, toast, logger, Options{Run: run})
	c.Resize(1000, 1000)
	c.Open("p1", "img-1", 1000, 1000)

	return &harness{c: c, store: store, api: api, seg: seg, mgr: mgr, toast: toast}
}

func (h *harness) startSession(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mgr.CreateSession(context.Background(),
		segmentation.ModelConfig{Model: "sam_v2", Device: "cuda", Precision: "fp16"}))
}

func px(x, y float64) geometry.Point2D {
	return geometry.Point2D{X: x * 1000, Y: y * 1000}
}

func (h *harness) drag(from, to geometry.Point2D) {
	h.c.PointerDown(from, viewport.ButtonLeft, viewport.Modifiers{})
	h.c.PointerMove(to)
	h.c.PointerUp(to, viewport.ButtonLeft)
}

func (h *harness) click(p geometry.Point2D) {
	h.c.PointerDown(p, viewport.ButtonLeft, viewport.Modifiers{})
	h.c.PointerUp(p, viewport.ButtonLeft)
}

func assertRect(t *testing.T, want, got geometry.Rect) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-6)
	assert.InDelta(t, want.Y, got.Y, 1e-6)
	assert.InDelta(t, want.Width, got.Width, 1e-6)
	assert.InDelta(t, want.Height, got.Height, 1e-6)
}

func TestDrawBoxUpwardLeftSavesNormalizedBox(t *testing.T) {
	h := newHarness(t)

	h.drag(px(0.1, 0.1), px(0.05, 0.05))

	shapes := h.store.GetAll()
	require.Len(t, shapes, 1)
	box, ok := shapes[0].(*annotation.Box)
	require.True(t, ok)
	assertRect(t, geometry.Rect{X: 0.05, Y: 0.05, Width: 0.05, Height: 0.05}, box.Rect)

	require.Len(t, h.api.created, 1)
	assert.Equal(t, platform.TypeBBox, h.api.created[0].Type)
	state, _ := h.store.SyncStateOf(box.ID)
	assert.Equal(t, annotation.Synced, state)
	assert.Empty(t, h.toast.Errors())
}

func TestCommittedShapeStaysOnItsImage(t *testing.T) {
	var queued []func()
	h := newHarnessRun(t, func(fn func()) { queued = append(queued, fn) })
	drain := func() {
		for len(queued) > 0 {
			fn := queued[0]
			queued = queued[1:]
			fn()
		}
	}
	drain()

	h.drag(px(0.1, 0.1), px(0.3, 0.3))
	assert.Equal(t, 1, h.store.Len(), "shape is stored before its request runs")

	h.c.Open("p1", "img-2", 1000, 1000)
	drain()

	assert.Zero(t, h.store.Len())
	require.Len(t, h.api.created, 1)
	assert.Equal(t, []string{"img-1"}, h.api.imageIDs)
}

func TestEscapeDiscardsOpenPolygon(t *testing.T) {
	h := newHarness(t)

	assert.True(t, h.c.Key("2"))
	assert.Equal(t, drawing.ToolPolygon, h.c.Machine().Tool())
	h.click(px(0.1, 0.1))
	h.click(px(0.3, 0.1))
	assert.Equal(t, drawing.StateAccumulating, h.c.Machine().State())

	assert.True(t, h.c.Key(KeyEscape))

	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.api.created)
	assert.Equal(t, drawing.StateIdle, h.c.Machine().State())
	assert.Nil(t, h.c.Scene().Preview)
}

func TestPolygonClosesOnDoubleClick(t *testing.T) {
	h := newHarness(t)
	h.c.SetTool(drawing.ToolPolygon)

	h.click(px(0.1, 0.1))
	h.click(px(0.5, 0.1))
	h.c.DoubleClick(px(0.5, 0.5))

	shapes := h.store.GetAll()
	require.Len(t, shapes, 1)
	poly, ok := shapes[0].(*annotation.Polygon)
	require.True(t, ok)
	assert.Len(t, poly.Points, 3)
	require.Len(t, h.api.created, 1)
	assert.Equal(t, platform.TypePolygon, h.api.created[0].Type)
}

func TestPanGestures(t *testing.T) {
	tests := []struct {
		name   string
		button viewport.Button
		mods   viewport.Modifiers
	}{
		{"alt+left", viewport.ButtonLeft, viewport.Modifiers{Alt: true}},
		{"middle", viewport.ButtonMiddle, viewport.Modifiers{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			h.c.PointerDown(px(0.5, 0.5), tt.button, tt.mods)
			h.c.PointerMove(geometry.Point2D{X: 550, Y: 520})
			h.c.PointerUp(geometry.Point2D{X: 550, Y: 520}, tt.button)

			tr := h.c.View().Transform()
			assert.InDelta(t, 50, tr.TranslateX, eps)
			assert.InDelta(t, 20, tr.TranslateY, eps)
			assert.Zero(t, h.store.Len())
			assert.Equal(t, drawing.StateIdle, h.c.Machine().State())
		})
	}
}

func TestWheelZoomNeedsCtrl(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.c.Wheel(1, px(0.5, 0.5), viewport.Modifiers{}))
	assert.InDelta(t, 1, h.c.View().Transform().Scale, eps)

	assert.True(t, h.c.Wheel(1, px(0.25, 0.75), viewport.Modifiers{Ctrl: true}))
	tr := h.c.View().Transform()
	assert.InDelta(t, 1.25, tr.Scale, eps)

	under := tr.ToImageSpace(250, 750)
	assert.InDelta(t, 0.25, under.X, 1e-9)
	assert.InDelta(t, 0.75, under.Y, 1e-9)
}

func TestResizeRefitsUntilUserZooms(t *testing.T) {
	h := newHarness(t)

	h.c.Resize(2000, 1000)
	tr := h.c.View().Transform()
	assert.InDelta(t, 500, tr.TranslateX, eps)

	h.c.Wheel(1, px(0.5, 0.5), viewport.Modifiers{Ctrl: true})
	zoomed := h.c.View().Transform()
	h.c.Resize(2400, 1000)
	assert.Equal(t, zoomed, h.c.View().Transform())

	h.c.Fit()
	assert.InDelta(t, 1, h.c.View().Transform().Scale, eps)
	assert.InDelta(t, 700, h.c.View().Transform().TranslateX, eps)
}

func TestPointPromptSegmentsEachClick(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.seg.results[segmentation.KindPoint] = []segmentation.Result{
		{BBox: segmentation.BBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.3}, Confidence: 0.9},
	}
	h.c.SetMode(PromptPoint)

	h.c.PointerDown(px(0.2, 0.3), viewport.ButtonLeft, viewport.Modifiers{})
	h.c.PointerDown(px(0.4, 0.4), viewport.ButtonLeft, viewport.Modifiers{Shift: true})
	h.c.PointerDown(px(0.6, 0.6), viewport.ButtonRight, viewport.Modifiers{})

	points := h.mgr.Points()
	require.Len(t, points, 3)
	assert.InDelta(t, 0.2, points[0].X, 1e-9)
	assert.InDelta(t, 0.3, points[0].Y, 1e-9)
	assert.Equal(t, segmentation.LabelPositive, points[0].Label)
	assert.Equal(t, segmentation.LabelNegative, points[1].Label)
	assert.Equal(t, segmentation.LabelNegative, points[2].Label)

	last := h.seg.last()
	assert.Equal(t, segmentation.KindPoint, last.Kind)
	assert.Len(t, last.Points, 3)
	assert.Zero(t, h.store.Len())
	assert.Len(t, h.c.Scene().Points, 3)

	h.c.Key(KeyEscape)
	assert.Empty(t, h.mgr.Points())
}

func TestPointOutsideImageIgnored(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.c.SetMode(PromptPoint)

	h.c.PointerDown(geometry.Point2D{X: 1200, Y: 100}, viewport.ButtonLeft, viewport.Modifiers{})

	assert.Empty(t, h.mgr.Points())
	assert.Empty(t, h.seg.requests)
}

func TestBoxPromptSegmentsInsteadOfCreating(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.seg.results[segmentation.KindBox] = []segmentation.Result{
		{BBox: segmentation.BBox{X: 0.12, Y: 0.12, Width: 0.25, Height: 0.25}, Confidence: 0.7},
	}
	h.c.SetMode(PromptBox)
	assert.Equal(t, drawing.ToolBox, h.c.Machine().Tool())

	h.c.PointerDown(px(0.1, 0.1), viewport.ButtonLeft, viewport.Modifiers{})
	h.c.PointerMove(px(0.4, 0.4))
	pv := h.c.Scene().Preview
	require.NotNil(t, pv)
	assert.True(t, pv.Prompt)
	h.c.PointerUp(px(0.4, 0.4), viewport.ButtonLeft)

	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.api.created)

	req := h.seg.last()
	assert.Equal(t, segmentation.KindBox, req.Kind)
	require.NotNil(t, req.Box)
	assert.InDelta(t, 0.1, req.Box.X, 1e-6)
	assert.InDelta(t, 0.3, req.Box.Width, 1e-6)
	assert.Equal(t, 1, h.c.Reconciler().Badge())
}

func TestClickOnSuggestionAcceptsIt(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.seg.results[segmentation.KindText] = []segmentation.Result{
		{BBox: segmentation.BBox{X: 0.6, Y: 0.6, Width: 0.2, Height: 0.2}, SuggestedLabel: "dog", Confidence: 0.8},
	}
	h.c.SegmentText("dog")
	require.Equal(t, 1, h.c.Reconciler().Badge())

	h.click(px(0.7, 0.7))

	shapes := h.store.GetAll()
	require.Len(t, shapes, 1)
	assert.Equal(t, "dog", shapes[0].Attributes().Label)
	assertRect(t, geometry.Rect{X: 0.6, Y: 0.6, Width: 0.2, Height: 0.2}, shapes[0].Bounds())
	assert.Equal(t, shapes[0].ShapeID(), h.store.Selected())
	assert.Zero(t, h.c.Reconciler().Badge())
	require.Len(t, h.api.batches, 1)
}

func TestEnterAcceptsHoveredAndBackspaceRejects(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.seg.results[segmentation.KindText] = []segmentation.Result{
		{BBox: segmentation.BBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1}, SuggestedLabel: "a", Confidence: 0.8},
		{BBox: segmentation.BBox{X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1}, SuggestedLabel: "b", Confidence: 0.8},
		{BBox: segmentation.BBox{X: 0.8, Y: 0.8, Width: 0.1, Height: 0.1}, SuggestedLabel: "c", Confidence: 0.8},
	}
	h.c.SegmentText("things")

	h.c.PointerMove(px(0.55, 0.55))
	scene := h.c.Scene()
	require.Len(t, scene.Suggestions, 3)
	assert.True(t, scene.Suggestions[1].Hovered)

	assert.True(t, h.c.Key(KeyReturn))
	shapes := h.store.GetAll()
	require.Len(t, shapes, 1)
	assert.Equal(t, "b", shapes[0].Attributes().Label)

	h.c.PointerMove(px(0.95, 0.05))
	assert.True(t, h.c.Key(KeyBackspace))
	pending := h.c.Reconciler().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].SuggestedLabel)
	assert.Equal(t, 1, h.store.Len())

	h.c.RejectAll()
	assert.False(t, h.c.Key(KeyReturn))
}

func TestAcceptAllCreatesOneBatch(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.seg.results[segmentation.KindText] = []segmentation.Result{
		{BBox: segmentation.BBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1}, SuggestedLabel: "a"},
		{BBox: segmentation.BBox{X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1}, SuggestedLabel: "b"},
	}
	h.c.SegmentText("things")

	h.c.AcceptAll()

	assert.Equal(t, 2, h.store.Len())
	require.Len(t, h.api.batches, 1)
	assert.Len(t, h.api.batches[0], 2)
}

func TestDeleteKeySoftDeletesSelection(t *testing.T) {
	h := newHarness(t)
	h.drag(px(0.1, 0.1), px(0.3, 0.3))
	id := h.store.GetAll()[0].ShapeID()

	h.c.Key("3")
	h.click(px(0.2, 0.2))
	require.Equal(t, id, h.store.Selected())

	assert.True(t, h.c.Key(KeyDelete))

	assert.Zero(t, h.store.Len())
	assert.Equal(t, []string{id}, h.api.deleted)
	assert.Equal(t, []bool{false}, h.api.hard)
}

func TestMoveSavesUpdate(t *testing.T) {
	h := newHarness(t)
	h.drag(px(0.1, 0.1), px(0.3, 0.3))

	h.c.Key("3")
	h.drag(px(0.2, 0.2), px(0.3, 0.3))

	box := h.store.GetAll()[0].(*annotation.Box)
	assertRect(t, geometry.Rect{X: 0.2, Y: 0.2, Width: 0.2, Height: 0.2}, box.Rect)
	require.Len(t, h.api.updated, 1)
	assert.Equal(t, box.ID, h.api.updated[0].UID)

	scene := h.c.Scene()
	require.Len(t, scene.Handles, 4)
	assert.InDelta(t, 200, scene.Handles[0].X, 1e-6)
}

func TestSceneMarksUnsyncedAndFlushRetries(t *testing.T) {
	h := newHarness(t)
	h.api.createErr = errors.New("connection refused")

	h.drag(px(0.1, 0.1), px(0.3, 0.3))

	require.Len(t, h.toast.Errors(), 1)
	scene := h.c.Scene()
	require.Len(t, scene.Shapes, 1)
	assert.True(t, scene.Shapes[0].Unsynced)
	assertRect(t, geometry.Rect{X: 100, Y: 100, Width: 200, Height: 200}, scene.Shapes[0].Rect)

	h.api.createErr = nil
	require.NoError(t, h.c.Flush(context.Background()))

	assert.Len(t, h.api.created, 1)
	assert.False(t, h.c.Scene().Shapes[0].Unsynced)
}

func TestOpenResetsCanvasState(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.seg.results[segmentation.KindText] = []segmentation.Result{
		{BBox: segmentation.BBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1}},
	}
	h.c.SegmentText("things")
	h.drag(px(0.5, 0.5), px(0.7, 0.7))
	h.api.lists["img-2"] = []platform.Annotation{
		{UID: "u1", Type: platform.TypeBBox, ClassName: "cat", Data: []float64{0.1, 0.1, 0.3, 0.3}},
	}

	h.c.Open("p1", "img-2", 800, 600)

	assert.Equal(t, "img-2", h.store.ImageID())
	require.Equal(t, 1, h.store.Len())
	_, ok := h.store.Get("u1")
	assert.True(t, ok)
	assert.Zero(t, h.c.Reconciler().Badge())
	assert.Equal(t, "img-2", h.mgr.ImageID())
	assert.Empty(t, h.c.Scene().Suggestions)
}

func TestStatusLine(t *testing.T) {
	h := newHarness(t)
	status := h.c.Status()
	assert.Contains(t, status, "box")
	assert.Contains(t, status, "zoom 100%")
	assert.Contains(t, status, "0 shapes")
}
