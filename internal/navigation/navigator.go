// Package navigation walks the ordered image list of a job and keeps the
// neighbors of the current image decoded in memory.
package navigation

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/sirupsen/logrus"

	"vision-annotator/internal/apperr"
	imgutil "vision-annotator/internal/image"
	"vision-annotator/internal/notify"
	"vision-annotator/pkg/platform"
)

var (
	ErrEmptyJob   = apperr.New(apperr.Validation, "job has no images")
	ErrOutOfRange = apperr.New(apperr.Validation, "image index out of range")
)

// Source lists job images and downloads their files.
type Source interface {
	JobImages(ctx context.Context, projectID, jobID string) ([]platform.JobImage, error)
	ImageFile(ctx context.Context, projectID, imageID string) ([]byte, string, error)
}

// FlushFunc saves pending edits before the current image changes.
type FlushFunc func(ctx context.Context) error

type Options struct {
	// Radius is the number of neighbors kept on each side of the current image.
	Radius int
	// MaxDim bounds the decoded image size; zero keeps full resolution.
	MaxDim int
	// Workers bounds concurrent downloads.
	Workers int
}

// Position describes the current image.
type Position struct {
	Index int
	Total int
	Image platform.JobImage
}

type entry struct {
	done   chan struct{}
	img    image.Image
	err    error
	cancel context.CancelFunc
}

// Navigator owns the current index and the prefetch cache.
type Navigator struct {
	src      Source
	notifier notify.Notifier
	log      *logrus.Logger
	opts     Options

	baseCtx    context.Context
	baseCancel context.CancelFunc
	sem        chan struct{}
	wg         sync.WaitGroup
	// moveMu serializes Load and moves, flush included.
	moveMu     sync.Mutex

	mu        sync.Mutex
	projectID string
	jobID     string
	images    []platform.JobImage
	index     int
	cache     map[string]*entry
	flush     FlushFunc
	onChange  []func(Position)
}

func New(src Source, notifier notify.Notifier, log *logrus.Logger, opts Options) *Navigator {
	if opts.Radius < 0 {
		opts.Radius = 0
	}
	if opts.Workers < 1 {
		opts.Workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Navigator{
		src:        src,
		notifier:   notifier,
		log:        log,
		opts:       opts,
		baseCtx:    ctx,
		baseCancel: cancel,
		sem:        make(chan struct{}, opts.Workers),
		cache:      make(map[string]*entry),
	}
}

// SetFlush installs the save hook run before every image change.
func (n *Navigator) SetFlush(fn FlushFunc) {
	n.mu.Lock()
	n.flush = fn
	n.mu.Unlock()
}

// OnChange registers a listener for image changes.
func (n *Navigator) OnChange(fn func(Position)) {
	n.mu.Lock()
	n.onChange = append(n.onChange, fn)
	n.mu.Unlock()
}

// Load fetches the job's image list and moves to start.
func (n *Navigator) Load(ctx context.Context, projectID, jobID string, start int) error {
	images, err := n.src.JobImages(ctx, projectID, jobID)
	if err != nil {
		err = apperr.Wrapf(apperr.Network, err, "load job %s", jobID)
		notify.Error(n.notifier, "Failed to load images", err)
		return err
	}
	if len(images) == 0 {
		notify.Error(n.notifier, "Failed to load images", ErrEmptyJob)
		return ErrEmptyJob
	}
	if start < 0 || start >= len(images) {
		start = 0
	}

	n.moveMu.Lock()
	defer n.moveMu.Unlock()

	n.mu.Lock()
	n.evictLocked(nil)
	n.projectID = projectID
	n.jobID = jobID
	n.images = images
	n.index = start
	pos := n.positionLocked()
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{"job_id": jobID, "count": len(images), "index": start}).Info("[navigation.Load] job loaded")
	n.prefetch()
	n.emit(pos)
	return nil
}

func (n *Navigator) positionLocked() Position {
	return Position{Index: n.index, Total: len(n.images), Image: n.images[n.index]}
}

// Current returns the current position. ok is false before Load.
func (n *Navigator) Current() (Position, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.images) == 0 {
		return Position{}, false
	}
	return n.positionLocked(), true
}

// ImageIDs returns the job's image ids in order.
func (n *Navigator) ImageIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, len(n.images))
	for i, img := range n.images {
		ids[i] = img.ID
	}
	return ids
}

// PreviousID returns the id of the image before the current one, or "".
func (n *Navigator) PreviousID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.index <= 0 || len(n.images) == 0 {
		return ""
	}
	return n.images[n.index-1].ID
}

// Next moves one image forward. Moves are serialized, so two quick calls
// advance two images.
func (n *Navigator) Next(ctx context.Context) (bool, error) {
	return n.move(ctx, func(cur, _ int) (int, error) { return cur + 1, nil })
}

func (n *Navigator) Previous(ctx context.Context) (bool, error) {
	return n.move(ctx, func(cur, _ int) (int, error) { return cur - 1, nil })
}

// Go moves to index.
func (n *Navigator) Go(ctx context.Context, index int) error {
	_, err := n.move(ctx, func(_, total int) (int, error) {
		if index < 0 || index >= total {
			return 0, ErrOutOfRange
		}
		return index, nil
	})
	return err
}

// move flushes pending edits and changes the current image. The target is
// computed from the current index once earlier moves have finished. A
// failed flush is reported by the flush hook and does not stop the move.
func (n *Navigator) move(ctx context.Context, target func(cur, total int) (int, error)) (bool, error) {
	n.moveMu.Lock()
	defer n.moveMu.Unlock()

	n.mu.Lock()
	if len(n.images) == 0 {
		n.mu.Unlock()
		return false, ErrEmptyJob
	}
	index, err := target(n.index, len(n.images))
	if err != nil {
		n.mu.Unlock()
		return false, err
	}
	if index < 0 || index >= len(n.images) || index == n.index {
		n.mu.Unlock()
		return false, nil
	}
	flush := n.flush
	n.mu.Unlock()

	if flush != nil {
		if err := flush(ctx); err != nil {
			n.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("[navigation.move] flush failed, moving on")
		}
	}

	n.mu.Lock()
	n.index = index
	pos := n.positionLocked()
	n.mu.Unlock()

	n.prefetch()
	n.emit(pos)
	return true, nil
}

func (n *Navigator) emit(pos Position) {
	n.mu.Lock()
	listeners := append([]func(Position)(nil), n.onChange...)
	n.mu.Unlock()
	for _, fn := range listeners {
		fn(pos)
	}
}

// windowLocked returns the ids within Radius of the current index.
func (n *Navigator) windowLocked() map[string]bool {
	keep := make(map[string]bool)
	for i := n.index - n.opts.Radius; i <= n.index+n.opts.Radius; i++ {
		if i >= 0 && i < len(n.images) {
			keep[n.images[i].ID] = true
		}
	}
	return keep
}

// evictLocked drops cache entries not in keep, cancelling their downloads.
func (n *Navigator) evictLocked(keep map[string]bool) {
	for id, e := range n.cache {
		if keep[id] {
			continue
		}
		e.cancel()
		delete(n.cache, id)
	}
}

func (n *Navigator) prefetch() {
	n.mu.Lock()
	keep := n.windowLocked()
	n.evictLocked(keep)
	for id := range keep {
		n.startLocked(id)
	}
	n.mu.Unlock()
}

func (n *Navigator) startLocked(id string) *entry {
	if e, ok := n.cache[id]; ok {
		return e
	}
	ctx, cancel := context.WithCancel(n.baseCtx)
	e := &entry{done: make(chan struct{}), cancel: cancel}
	n.cache[id] = e
	projectID := n.projectID

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(e.done)
		e.img, e.err = n.fetch(ctx, projectID, id)
		if e.err != nil && !errors.Is(e.err, context.Canceled) {
			n.log.WithFields(logrus.Fields{"image_id": id, "error": e.err.Error()}).Warn("[navigation.prefetch] fetch failed")
		}
	}()
	return e
}

func (n *Navigator) fetch(ctx context.Context, projectID, id string) (image.Image, error) {
	select {
	case n.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-n.sem }()

	data, contentType, err := n.src.ImageFile(ctx, projectID, id)
	if err != nil {
		return nil, apperr.Wrapf(apperr.Network, err, "download image %s", id)
	}
	img, err := imgutil.Decode(data, contentType)
	if err != nil {
		return nil, apperr.Wrapf(apperr.Validation, err, "decode image %s", id)
	}
	return imgutil.Fit(img, n.opts.MaxDim), nil
}

// Image returns the decoded image for id, waiting for its download.
// Failed downloads are dropped from the cache so the next call retries.
func (n *Navigator) Image(ctx context.Context, id string) (image.Image, error) {
	n.mu.Lock()
	e := n.startLocked(id)
	n.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		n.mu.Lock()
		if n.cache[id] == e {
			delete(n.cache, id)
		}
		n.mu.Unlock()
		return nil, e.err
	}
	return e.img, nil
}

// Cached returns the ids currently held in the prefetch cache.
func (n *Navigator) Cached() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.cache))
	for id := range n.cache {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every started download has finished.
func (n *Navigator) Wait() {
	n.wg.Wait()
}

// Close cancels outstanding downloads.
func (n *Navigator) Close() {
	n.baseCancel()
	n.wg.Wait()
}
