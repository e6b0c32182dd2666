package persist

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/apperr"
	"vision-annotator/internal/notify"
	"vision-annotator/pkg/geometry"
	"vision-annotator/pkg/platform"
)

type fakeAPI struct {
	mu sync.Mutex

	list      []platform.Annotation
	listErr   error
	createErr error
	batchErr  error
	updateErr error
	deleteErr error

	created  []platform.Annotation
	imageIDs []string
	batches  [][]platform.Annotation
	updated  []platform.Annotation
	deleted  []string
	hard     []bool

	// entered is closed when ListAnnotations starts; gate then blocks it until closed.
	entered chan struct{}
	gate    chan struct{}

	// createCalls counts CreateAnnotation calls, including blocked ones.
	// createEntered receives one value per call; createGate blocks calls until closed.
	createCalls   int
	createEntered chan struct{}
	createGate    chan struct{}
}

func (f *fakeAPI) ListAnnotations(ctx context.Context, projectID, imageID string) ([]platform.Annotation, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.list, f.listErr
}

func (f *fakeAPI) CreateAnnotation(ctx context.Context, projectID, imageID string, a platform.Annotation) (*platform.Annotation, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createEntered != nil {
		f.createEntered <- struct{}{}
	}
	if f.createGate != nil {
		<-f.createGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, a)
	f.imageIDs = append(f.imageIDs, imageID)
	return &a, nil
}

func (f *fakeAPI) CreateAnnotations(ctx context.Context, projectID, imageID string, list []platform.Annotation) ([]platform.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	f.batches = append(f.batches, list)
	return list, nil
}

func (f *fakeAPI) UpdateAnnotation(ctx context.Context, projectID string, a platform.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, a)
	return nil
}

func (f *fakeAPI) DeleteAnnotation(ctx context.Context, projectID, annotationID string, hardDelete bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, annotationID)
	f.hard = append(f.hard, hardDelete)
	return f.deleteErr
}

func newBridge(t *testing.T, api *fakeAPI) (*Bridge, *annotation.Store, *notify.Recorder) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := annotation.NewStore()
	rec := &notify.Recorder{}
	b := NewBridge(api, store, rec, logger)
	b.Attach("p1", "img-1")
	return b, store, rec
}

func newBox(id string) *annotation.Box {
	return &annotation.Box{
		Attrs: annotation.Attrs{ID: id, Label: "car", Source: annotation.SourceManual, Confidence: 1},
		Rect:  geometry.NewRect(0.1, 0.1, 0.2, 0.2),
	}
}

func TestLoadInstallsSnapshot(t *testing.T) {
	api := &fakeAPI{list: []platform.Annotation{
		{UID: "a", Type: platform.TypeBBox, ClassName: "car", Data: []float64{0.1, 0.1, 0.3, 0.3}},
		{UID: "b", Type: platform.TypePolygon, ClassName: "road", Data: []float64{0, 0, 1, 0, 1, 1}},
		{UID: "bad", Type: "ellipse"},
	}}
	b, store, _ := newBridge(t, api)

	require.NoError(t, b.Load(context.Background()))
	assert.Equal(t, 2, store.Len())
	assert.True(t, store.HasSyncedInitial())
	assert.False(t, store.IsDirty())
}

func TestLoadNetworkErrorToasts(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("connection refused")}
	b, _, rec := newBridge(t, api)

	err := b.Load(context.Background())
	assert.Equal(t, apperr.Network, apperr.KindOf(err))
	assert.Len(t, rec.Errors(), 1)
}

func TestLateLoadAfterImageChangeIsDropped(t *testing.T) {
	api := &fakeAPI{
		list:    []platform.Annotation{{UID: "old", Type: platform.TypeBBox, Data: []float64{0, 0, 0.5, 0.5}}},
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	b, store, rec := newBridge(t, api)

	done := make(chan error, 1)
	go func() { done <- b.Load(context.Background()) }()

	<-api.entered
	b.Attach("p1", "img-2")
	close(api.gate)

	err := <-done
	assert.ErrorIs(t, err, annotation.ErrStaleImage)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, rec.Errors(), "stale loads are not surfaced")
}

func TestCreateOptimistic(t *testing.T) {
	api := &fakeAPI{}
	b, store, rec := newBridge(t, api)

	require.NoError(t, b.Create(context.Background(), newBox("a")))

	state, ok := store.SyncStateOf("a")
	require.True(t, ok)
	assert.Equal(t, annotation.Synced, state)
	require.Len(t, api.created, 1)
	assert.Equal(t, "a", api.created[0].UID)
	assert.InDeltaSlice(t, []float64{0.1, 0.1, 0.3, 0.3}, api.created[0].Data, 1e-12)
	assert.Equal(t, "manual", api.created[0].Source)
	assert.Empty(t, rec.Toasts())
}

func TestCreateFailureKeepsShapeUnsynced(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("503")}
	b, store, rec := newBridge(t, api)

	err := b.Create(context.Background(), newBox("a"))
	assert.Equal(t, apperr.Network, apperr.KindOf(err))

	state, ok := store.SyncStateOf("a")
	require.True(t, ok, "shape stays visible locally")
	assert.Equal(t, annotation.Unsynced, state)
	assert.Len(t, rec.Errors(), 1)
}

func TestCreateValidationFailsBeforeNetwork(t *testing.T) {
	api := &fakeAPI{}
	b, store, rec := newBridge(t, api)

	tiny := newBox("a")
	tiny.Width = 0.001
	tiny.Height = 0.001
	err := b.Create(context.Background(), tiny)

	assert.ErrorIs(t, err, annotation.ErrBoxTooSmall)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, api.created)
	assert.Len(t, rec.Errors(), 1)
}

func TestCreateManyBatch(t *testing.T) {
	api := &fakeAPI{}
	b, store, _ := newBridge(t, api)

	require.NoError(t, b.CreateMany(context.Background(), []annotation.Shape{newBox("a"), newBox("b"), newBox("c")}))

	require.Len(t, api.batches, 1)
	assert.Len(t, api.batches[0], 3)
	assert.Empty(t, store.Pending())
}

func TestCreateManyFallsBackToSequential(t *testing.T) {
	api := &fakeAPI{batchErr: &platform.StatusError{StatusCode: http.StatusMethodNotAllowed}}
	b, store, _ := newBridge(t, api)

	require.NoError(t, b.CreateMany(context.Background(), []annotation.Shape{newBox("a"), newBox("b"), newBox("c")}))

	require.Len(t, api.created, 3)
	assert.Equal(t, "a", api.created[0].UID)
	assert.Equal(t, "b", api.created[1].UID)
	assert.Equal(t, "c", api.created[2].UID)
	assert.Empty(t, store.Pending())
}

func TestCreateManyServerError(t *testing.T) {
	api := &fakeAPI{batchErr: &platform.StatusError{StatusCode: http.StatusInternalServerError}}
	b, store, rec := newBridge(t, api)

	err := b.CreateMany(context.Background(), []annotation.Shape{newBox("a"), newBox("b")})
	assert.Error(t, err)
	assert.Empty(t, api.created)
	assert.Len(t, store.Pending(), 2)
	assert.Len(t, rec.Errors(), 1)
}

func TestDeleteOptimistic(t *testing.T) {
	api := &fakeAPI{deleteErr: errors.New("offline")}
	b, store, rec := newBridge(t, api)
	require.NoError(t, b.Create(context.Background(), newBox("a")))

	err := b.Delete(context.Background(), "a", true)
	assert.Error(t, err)
	assert.Equal(t, 0, store.Len(), "removed regardless of network outcome")
	assert.Equal(t, []string{"a"}, api.deleted)
	assert.Equal(t, []bool{false}, api.hard)
	assert.Len(t, rec.Errors(), 1)
}

func TestDeleteUnsyncedSkipsNetwork(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("offline")}
	b, store, _ := newBridge(t, api)
	_ = b.Create(context.Background(), newBox("a"))

	require.NoError(t, b.Delete(context.Background(), "a", false))
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, api.deleted)
}

func TestSaveModifiedPatches(t *testing.T) {
	api := &fakeAPI{}
	b, store, _ := newBridge(t, api)
	require.NoError(t, b.Create(context.Background(), newBox("a")))
	require.NoError(t, store.Update("a", annotation.RectPatch(geometry.NewRect(0.5, 0.5, 0.1, 0.1))))

	require.NoError(t, b.Save(context.Background(), "a"))
	require.Len(t, api.updated, 1)
	assert.Equal(t, "a", api.updated[0].UID)
	state, _ := store.SyncStateOf("a")
	assert.Equal(t, annotation.Synced, state)
}

func TestFlushIsBestEffort(t *testing.T) {
	api := &fakeAPI{}
	b, store, rec := newBridge(t, api)
	require.NoError(t, b.Create(context.Background(), newBox("synced")))
	require.NoError(t, store.Update("synced", annotation.RectPatch(geometry.NewRect(0.4, 0.4, 0.2, 0.2))))

	api.createErr = errors.New("offline")
	_ = b.Create(context.Background(), newBox("local"))
	rec.Reset()

	err := b.Flush(context.Background())
	assert.Error(t, err)
	assert.Len(t, api.updated, 1, "modified shape still saved")
	assert.Len(t, rec.Errors(), 1)

	state, _ := store.SyncStateOf("synced")
	assert.Equal(t, annotation.Synced, state)
}

func blockingAPI() *fakeAPI {
	return &fakeAPI{createEntered: make(chan struct{}, 4), createGate: make(chan struct{})}
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func startCreate(t *testing.T, b *Bridge, api *fakeAPI, shape annotation.Shape) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- b.Create(context.Background(), shape) }()
	<-api.createEntered
	return done
}

func TestFlushAwaitsCreateInFlight(t *testing.T) {
	api := blockingAPI()
	b, store, _ := newBridge(t, api)
	done := startCreate(t, b, api, newBox("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Flush(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, api.calls(), "flush must not create the shape a second time")

	close(api.createGate)
	require.NoError(t, <-done)
	state, _ := store.SyncStateOf("a")
	assert.Equal(t, annotation.Synced, state)

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 1, api.calls())
	assert.Len(t, api.created, 1)
}

func TestFlushWaitsThenReturns(t *testing.T) {
	api := blockingAPI()
	b, _, _ := newBridge(t, api)
	done := startCreate(t, b, api, newBox("a"))

	flushed := make(chan error, 1)
	go func() { flushed <- b.Flush(context.Background()) }()
	close(api.createGate)

	require.NoError(t, <-done)
	require.NoError(t, <-flushed)
	assert.Equal(t, 1, api.calls())
	assert.Empty(t, api.updated)
}

func TestDeleteDuringCreateDeletesOnServer(t *testing.T) {
	api := blockingAPI()
	b, store, _ := newBridge(t, api)
	done := startCreate(t, b, api, newBox("a"))

	require.NoError(t, b.Delete(context.Background(), "a", false))
	assert.Equal(t, 0, store.Len())

	close(api.createGate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a"}, api.deleted)
	assert.Equal(t, []bool{true}, api.hard)
}

func TestDeleteBeforeStagedCreateSendsNothing(t *testing.T) {
	api := &fakeAPI{}
	b, _, _ := newBridge(t, api)

	send, err := b.Stage(newBox("a"))
	require.NoError(t, err)
	require.NoError(t, b.Delete(context.Background(), "a", true))
	require.NoError(t, send(context.Background()))

	assert.Empty(t, api.created)
	assert.Empty(t, api.deleted)
}

func TestEditDuringCreateIsSentAsUpdate(t *testing.T) {
	api := blockingAPI()
	b, store, _ := newBridge(t, api)
	done := startCreate(t, b, api, newBox("a"))

	require.NoError(t, store.Update("a", annotation.RectPatch(geometry.NewRect(0.5, 0.5, 0.1, 0.1))))
	close(api.createGate)
	require.NoError(t, <-done)

	state, _ := store.SyncStateOf("a")
	assert.Equal(t, annotation.Modified, state, "the create carried the old geometry")

	require.NoError(t, b.Save(context.Background(), "a"))
	require.Len(t, api.updated, 1)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.6, 0.6}, api.updated[0].Data, 1e-12)
	assert.Equal(t, 1, api.calls())
}

func TestStagedCreateKeepsItsImage(t *testing.T) {
	api := &fakeAPI{}
	b, store, _ := newBridge(t, api)

	send, err := b.Stage(newBox("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	b.Attach("p1", "img-2")
	require.NoError(t, send(context.Background()))

	assert.Equal(t, 0, store.Len(), "the new image starts empty")
	require.Len(t, api.created, 1)
	assert.Equal(t, []string{"img-1"}, api.imageIDs)
}

func TestNotAttached(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b := NewBridge(&fakeAPI{}, annotation.NewStore(), nil, logger)

	assert.ErrorIs(t, b.Load(context.Background()), ErrNotAttached)
	assert.NoError(t, b.Flush(context.Background()))
}

func TestCodecRoundTrip(t *testing.T) {
	poly := &annotation.Polygon{
		Attrs:  annotation.Attrs{ID: "p", Label: "road", Source: annotation.SourceAI, Confidence: 0.8},
		Points: []geometry.Point2D{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.4}, {X: 0.5, Y: 0.1}},
	}
	wire := ToWire(poly, 2)
	assert.Equal(t, platform.TypePolygon, wire.Type)
	assert.Equal(t, "ai", wire.Source)

	back, err := FromWire(wire)
	require.NoError(t, err)
	assert.Equal(t, poly.Points, back.(*annotation.Polygon).Points)

	_, err = FromWire(platform.Annotation{Type: platform.TypeBBox, Data: []float64{1, 2}})
	assert.ErrorIs(t, err, ErrMalformedData)
}
