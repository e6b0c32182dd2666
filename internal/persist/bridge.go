// Package persist keeps the annotation store in step with the backend.
package persist

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/apperr"
	"vision-annotator/internal/notify"
	"vision-annotator/pkg/platform"
)

// API is the subset of the platform client used by the bridge.
type API interface {
	ListAnnotations(ctx context.Context, projectID, imageID string) ([]platform.Annotation, error)
	CreateAnnotation(ctx context.Context, projectID, imageID string, a platform.Annotation) (*platform.Annotation, error)
	CreateAnnotations(ctx context.Context, projectID, imageID string, list []platform.Annotation) ([]platform.Annotation, error)
	UpdateAnnotation(ctx context.Context, projectID string, a platform.Annotation) error
	DeleteAnnotation(ctx context.Context, projectID, annotationID string, hardDelete bool) error
}

// Bridge applies store mutations optimistically and mirrors them to the
// backend. Failed requests are reported as toasts and never retried.
type Bridge struct {
	api      API
	store    *annotation.Store
	notifier notify.Notifier
	log      *logrus.Logger
	now      func() time.Time

	mu        sync.Mutex
	projectID string
	imageID   string
	lastMark  time.Time
	// flights holds creates that were staged but have not settled, by shape id.
	flights   map[string]*flight
}

// flight is one create request. Fields other than done are guarded by the
// bridge mutex.
type flight struct {
	done       chan struct{}
	// rev is the store revision of the shape that was sent.
	rev        uint64
	ok         bool
	deleted    bool
	hardDelete bool
}

func (f *flight) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewBridge(api API, store *annotation.Store, notifier notify.Notifier, log *logrus.Logger) *Bridge {
	return &Bridge{
		api:      api,
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		flights:  make(map[string]*flight),
	}
}

// Attach binds the bridge to an image and resets the store for it.
func (b *Bridge) Attach(projectID, imageID string) {
	b.mu.Lock()
	b.projectID = projectID
	b.imageID = imageID
	b.lastMark = b.now()
	b.store.Reset(imageID)
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{"project_id": projectID, "image_id": imageID}).Debug("[persist.Attach] attached")
}

func (b *Bridge) target() (projectID, imageID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.imageID == "" {
		return "", "", ErrNotAttached
	}
	return b.projectID, b.imageID, nil
}

// ImageID returns the attached image.
func (b *Bridge) ImageID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.imageID
}

// elapsed returns seconds since the image was attached or the previous create.
func (b *Bridge) elapsed() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	secs := now.Sub(b.lastMark).Seconds()
	b.lastMark = now
	return secs
}

// Load fetches the image's annotations and installs them once. A snapshot
// that arrives after the image changed or after local edits is dropped and
// reported as a concurrency error, which is never shown to the user.
func (b *Bridge) Load(ctx context.Context) error {
	projectID, imageID, err := b.target()
	if err != nil {
		return err
	}

	list, err := b.api.ListAnnotations(ctx, projectID, imageID)
	if err != nil {
		err = apperr.Wrapf(apperr.Network, err, "load annotations")
		notify.Error(b.notifier, "Failed to load annotations", err)
		return err
	}

	shapes := make([]annotation.Shape, 0, len(list))
	for _, a := range list {
		s, convErr := FromWire(a)
		if convErr != nil {
			b.log.WithFields(logrus.Fields{"uid": a.Key(), "type": a.Type, "error": convErr.Error()}).Warn("[persist.Load] skipping annotation")
			continue
		}
		shapes = append(shapes, s)
	}

	if err := b.store.ReplaceAll(imageID, shapes); err != nil {
		b.log.WithFields(logrus.Fields{"image_id": imageID, "reason": err.Error()}).Debug("[persist.Load] snapshot dropped")
		return err
	}

	b.log.WithFields(logrus.Fields{"image_id": imageID, "count": len(shapes)}).Info("[persist.Load] annotations loaded")
	return nil
}

// Stage validates a shape and adds it to the store for the attached image.
// The returned func sends the create request; it is bound to that image so
// it may run after the canvas has moved on.
func (b *Bridge) Stage(shape annotation.Shape) (func(ctx context.Context) error, error) {
	if err := shape.Validate(); err != nil {
		notify.Error(b.notifier, "Invalid annotation", err)
		return nil, err
	}

	b.mu.Lock()
	projectID, imageID := b.projectID, b.imageID
	if imageID == "" {
		b.mu.Unlock()
		return nil, ErrNotAttached
	}
	err := b.store.Add(shape)
	var f *flight
	if err == nil {
		f = b.begin(shape.ShapeID(), 0)
	}
	b.mu.Unlock()
	if err != nil {
		notify.Error(b.notifier, "Invalid annotation", err)
		return nil, err
	}

	return func(ctx context.Context) error {
		return b.send(ctx, projectID, imageID, ToWire(shape, b.elapsed()), f)
	}, nil
}

// Create validates a shape, adds it to the store and saves it. On a network
// failure the shape stays in the store, flagged unsynced.
func (b *Bridge) Create(ctx context.Context, shape annotation.Shape) error {
	send, err := b.Stage(shape)
	if err != nil {
		return err
	}
	return send(ctx)
}

// begin registers a create for revision rev of id. The caller holds b.mu.
func (b *Bridge) begin(id string, rev uint64) *flight {
	f := &flight{done: make(chan struct{}), rev: rev}
	b.flights[id] = f
	return f
}

// settle records the outcome of a create. The store state changes before the
// flight is dropped so no caller sees an unsynced shape without its flight.
// A delete requested meanwhile is sent now that the server knows the shape.
func (b *Bridge) settle(ctx context.Context, projectID, id string, f *flight, ok bool) {
	b.mu.Lock()
	f.ok = ok
	_, rev, present := b.store.Revision(id)
	switch {
	case f.deleted || !present:
	case !ok:
		b.store.MarkUnsynced(id)
	case rev != f.rev:
		b.store.MarkModified(id)
	default:
		b.store.MarkSynced(id)
	}
	if b.flights[id] == f {
		delete(b.flights, id)
	}
	deleted, hard := f.deleted, f.hardDelete
	b.mu.Unlock()

	if deleted && ok {
		_ = b.deleteRemote(ctx, projectID, id, hard)
	}
	close(f.done)
}

// send issues the create request of a staged shape and settles its flight.
func (b *Bridge) send(ctx context.Context, projectID, imageID string, wire platform.Annotation, f *flight) error {
	id := wire.Key()

	b.mu.Lock()
	dropped := f.deleted
	b.mu.Unlock()
	if dropped {
		b.settle(ctx, projectID, id, f, false)
		return nil
	}

	if _, err := b.api.CreateAnnotation(ctx, projectID, imageID, wire); err != nil {
		err = apperr.Wrapf(apperr.Network, err, "create annotation")
		b.settle(ctx, projectID, id, f, false)
		notify.Error(b.notifier, "Failed to save annotation", err)
		b.log.WithFields(logrus.Fields{"id": id, "error": err.Error()}).Error("[persist.send] create failed")
		return err
	}
	b.settle(ctx, projectID, id, f, true)
	return nil
}

// CreateMany adds shapes to the store in order and saves them with one batch
// request, falling back to sequential creates when batching is unsupported.
func (b *Bridge) CreateMany(ctx context.Context, shapes []annotation.Shape) error {
	added := make([]annotation.Shape, 0, len(shapes))
	flights := make([]*flight, 0, len(shapes))
	var errs []error

	b.mu.Lock()
	projectID, imageID := b.projectID, b.imageID
	if imageID == "" {
		b.mu.Unlock()
		return ErrNotAttached
	}
	for _, s := range shapes {
		if err := b.store.Add(s); err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, s)
		flights = append(flights, b.begin(s.ShapeID(), 0))
	}
	b.mu.Unlock()
	if len(added) == 0 {
		if err := errors.Join(errs...); err != nil {
			notify.Error(b.notifier, "Invalid annotation", err)
			return err
		}
		return nil
	}

	elapsed := b.elapsed()
	wire := make([]platform.Annotation, len(added))
	for i, s := range added {
		wire[i] = ToWire(s, elapsed/float64(len(added)))
	}

	_, err := b.api.CreateAnnotations(ctx, projectID, imageID, wire)
	switch {
	case err == nil:
		for i, s := range added {
			b.settle(ctx, projectID, s.ShapeID(), flights[i], true)
		}
	case platform.HasStatus(err, http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented):
		b.log.Debug("[persist.CreateMany] batch endpoint unavailable, creating one by one")
		for i, s := range added {
			if _, cerr := b.api.CreateAnnotation(ctx, projectID, imageID, wire[i]); cerr != nil {
				b.settle(ctx, projectID, s.ShapeID(), flights[i], false)
				errs = append(errs, apperr.Wrapf(apperr.Network, cerr, "create annotation"))
				continue
			}
			b.settle(ctx, projectID, s.ShapeID(), flights[i], true)
		}
	default:
		for i, s := range added {
			b.settle(ctx, projectID, s.ShapeID(), flights[i], false)
		}
		errs = append(errs, apperr.Wrapf(apperr.Network, err, "create annotations"))
	}

	if err := errors.Join(errs...); err != nil {
		notify.Error(b.notifier, "Failed to save annotations", err)
		return err
	}
	b.log.WithFields(logrus.Fields{"count": len(added)}).Info("[persist.CreateMany] annotations saved")
	return nil
}

// AddShapes implements the suggestion sink used when suggestions are accepted.
func (b *Bridge) AddShapes(ctx context.Context, shapes []annotation.Shape) error {
	if len(shapes) == 1 {
		return b.Create(ctx, shapes[0])
	}
	return b.CreateMany(ctx, shapes)
}

// Save persists the current version of a stored shape: a create if it was
// never saved, an update otherwise. A shape whose create is in flight is
// awaited; edits made meanwhile go out as an update once it lands.
func (b *Bridge) Save(ctx context.Context, id string) error {
	projectID, imageID, err := b.target()
	if err != nil {
		return err
	}

	b.mu.Lock()
	shape, rev, ok := b.store.Revision(id)
	if !ok {
		b.mu.Unlock()
		return annotation.ErrNotFound
	}
	if f := b.flights[id]; f != nil {
		b.mu.Unlock()
		if err := f.wait(ctx); err != nil {
			return apperr.Wrapf(apperr.Network, err, "wait for create")
		}
		if !f.ok {
			return ErrCreateFailed
		}
		return b.Save(ctx, id)
	}

	state, _ := b.store.SyncStateOf(id)
	var f *flight
	switch state {
	case annotation.Synced:
		b.mu.Unlock()
		return nil
	case annotation.Unsynced:
		f = b.begin(id, rev)
	}
	b.mu.Unlock()

	if f != nil {
		return b.send(ctx, projectID, imageID, ToWire(shape, b.elapsed()), f)
	}

	if err := b.api.UpdateAnnotation(ctx, projectID, ToWire(shape, 0)); err != nil {
		err = apperr.Wrapf(apperr.Network, err, "update annotation")
		notify.Error(b.notifier, "Failed to update annotation", err)
		return err
	}
	b.mu.Lock()
	if _, now, ok := b.store.Revision(id); ok && now == rev {
		b.store.MarkSynced(id)
	}
	b.mu.Unlock()
	return nil
}

// Discard removes a shape from the store and returns the func that deletes
// it from the backend. Shapes that were never saved need no request; a shape
// whose create is still in flight is deleted once the create lands.
func (b *Bridge) Discard(id string, softDelete bool) (func(ctx context.Context) error, error) {
	b.mu.Lock()
	projectID := b.projectID
	if b.imageID == "" {
		b.mu.Unlock()
		return nil, ErrNotAttached
	}
	_, state, err := b.store.Remove(id)
	if err == nil && state == annotation.Unsynced {
		if f := b.flights[id]; f != nil {
			f.deleted = true
			f.hardDelete = !softDelete
		}
	}
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if state == annotation.Unsynced {
		return func(context.Context) error { return nil }, nil
	}
	return func(ctx context.Context) error {
		return b.deleteRemote(ctx, projectID, id, !softDelete)
	}, nil
}

// Delete removes a shape from the store immediately and then from the backend.
func (b *Bridge) Delete(ctx context.Context, id string, softDelete bool) error {
	del, err := b.Discard(id, softDelete)
	if err != nil {
		return err
	}
	return del(ctx)
}

func (b *Bridge) deleteRemote(ctx context.Context, projectID, id string, hard bool) error {
	if err := b.api.DeleteAnnotation(ctx, projectID, id, hard); err != nil {
		err = apperr.Wrapf(apperr.Network, err, "delete annotation")
		notify.Error(b.notifier, "Failed to delete annotation", err)
		return err
	}
	return nil
}

// Flush saves every unsynced or modified shape. It is best effort: every
// shape is attempted and failures are reported but do not stop the caller.
// Shapes whose create is in flight are awaited, not sent again.
func (b *Bridge) Flush(ctx context.Context) error {
	if _, _, err := b.target(); err != nil {
		return nil
	}
	pending := b.store.Pending()
	if len(pending) == 0 {
		return nil
	}

	var errs []error
	for _, e := range pending {
		err := b.Save(ctx, e.Shape.ShapeID())
		if err != nil && !errors.Is(err, annotation.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	b.log.WithFields(logrus.Fields{"pending": len(pending), "failed": len(errs)}).Info("[persist.Flush] flushed")
	return errors.Join(errs...)
}
