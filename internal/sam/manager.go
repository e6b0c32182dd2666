// Package sam manages the segmentation session used to produce suggestions
// and the list of suggestions awaiting review.
package sam

import (
	"context"
	"errors"
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/apperr"
	"vision-annotator/internal/notify"
	"vision-annotator/pkg/geometry"
	"vision-annotator/pkg/segmentation"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateEnding
	StateSwitchingModel
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateSwitchingModel:
		return "switching"
	default:
		return "idle"
	}
}

// Session is a snapshot of the session state.
type Session struct {
	ID     string
	State  State
	Config segmentation.ModelConfig
}

func (s Session) IsActive() bool { return s.State == StateActive }

// IsLoading reports whether a lifecycle transition is in progress.
func (s Session) IsLoading() bool {
	return s.State == StateStarting || s.State == StateEnding || s.State == StateSwitchingModel
}

// EventType identifies manager events.
type EventType int

const (
	EventSessionChanged EventType = iota
	EventPointsChanged
	EventSuggestionsChanged
	EventProcessingChanged
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// ShapeSink receives the shapes built from accepted suggestions.
type ShapeSink interface {
	AddShapes(ctx context.Context, shapes []annotation.Shape) error
}

// Options tune request handling.
type Options struct {
	// Timeout bounds each segmentation request. Zero disables it.
	Timeout time.Duration
	// Rate is the number of requests per second; zero or less is unlimited.
	Rate  float64
	Burst int
	// DefaultLabel names accepted suggestions without a suggested label.
	DefaultLabel string
}

func DefaultOptions() Options {
	return Options{
		Timeout:      120 * time.Second,
		Burst:        1,
		DefaultLabel: "object",
	}
}

type flight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Manager owns the segmentation session, the prompt points and the pending
// suggestions. Requests of different kinds run concurrently; a new request
// cancels the one of the same kind still in flight.
type Manager struct {
	seg      segmentation.Segmenter
	sink     ShapeSink
	notifier notify.Notifier
	log      *logrus.Logger
	opts     Options
	validate *validator.Validate
	limiter  *rate.Limiter
	ids      *idSource

	mu          sync.RWMutex
	session     Session
	imageID     string
	epoch       uint64
	gen         uint64
	points      []segmentation.Point
	suggestions []Suggestion
	flights     map[segmentation.Kind]*flight
	rng         *mrand.Rand

	listeners map[EventType][]EventListener
}

func NewManager(seg segmentation.Segmenter, sink ShapeSink, notifier notify.Notifier, log *logrus.Logger, opts Options) *Manager {
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.DefaultLabel == "" {
		opts.DefaultLabel = DefaultOptions().DefaultLabel
	}

	return &Manager{
		seg:       seg,
		sink:      sink,
		notifier:  notifier,
		log:       log,
		opts:      opts,
		validate:  validator.New(),
		limiter:   rate.NewLimiter(limit, opts.Burst),
		ids:       newIDSource(),
		flights:   make(map[segmentation.Kind]*flight),
		rng:       mrand.New(mrand.NewSource(time.Now().UnixNano())),
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers an event listener for the specified event type.
func (m *Manager) On(event EventType, listener EventListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[event] = append(m.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (m *Manager) Emit(event EventType, data interface{}) {
	m.mu.RLock()
	listeners := m.listeners[event]
	m.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Session returns a snapshot of the session.
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *Manager) fail(title string, err error) error {
	notify.Error(m.notifier, title, err)
	return err
}

func (m *Manager) checkConfig(cfg segmentation.ModelConfig) error {
	if err := m.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.session.State = state
	s := m.session
	m.mu.Unlock()
	m.Emit(EventSessionChanged, s)
}

// resetLocked drops prompts, suggestions and in-flight requests.
func (m *Manager) resetLocked() {
	for kind, f := range m.flights {
		f.cancel()
		delete(m.flights, kind)
	}
	m.points = nil
	m.suggestions = nil
	m.epoch++
}

func (m *Manager) emitReset() {
	m.Emit(EventPointsChanged, nil)
	m.Emit(EventSuggestionsChanged, nil)
	m.Emit(EventProcessingChanged, nil)
}

// CreateSession starts a session. On failure the manager returns to idle.
func (m *Manager) CreateSession(ctx context.Context, cfg segmentation.ModelConfig) error {
	if err := m.checkConfig(cfg); err != nil {
		return m.fail("Invalid model", err)
	}

	m.mu.Lock()
	if m.session.State != StateIdle {
		m.mu.Unlock()
		return m.fail("Session busy", ErrSessionBusy)
	}
	m.session = Session{State: StateStarting, Config: cfg}
	s := m.session
	m.mu.Unlock()
	m.Emit(EventSessionChanged, s)

	return m.start(ctx, cfg)
}

func (m *Manager) start(ctx context.Context, cfg segmentation.ModelConfig) error {
	id, err := m.seg.StartSession(ctx, cfg)

	m.mu.Lock()
	if err != nil {
		m.session = Session{State: StateIdle, Config: cfg}
	} else {
		m.session = Session{ID: id, State: StateActive, Config: cfg}
		m.resetLocked()
	}
	s := m.session
	m.mu.Unlock()
	m.Emit(EventSessionChanged, s)

	if err != nil {
		m.log.WithFields(logrus.Fields{"config": cfg.String(), "error": err.Error()}).Error("[sam.start] session failed to start")
		return m.fail("Segmentation unavailable", apperr.Wrapf(apperr.Session, err, "start %s session", cfg.Model))
	}
	m.emitReset()
	m.log.WithFields(logrus.Fields{"session_id": id, "config": cfg.String()}).Info("[sam.start] session active")
	return nil
}

// SwitchModel replaces the active session with one running cfg. Pending
// suggestions and points are discarded first.
func (m *Manager) SwitchModel(ctx context.Context, cfg segmentation.ModelConfig) error {
	if err := m.checkConfig(cfg); err != nil {
		return m.fail("Invalid model", err)
	}

	m.mu.Lock()
	if m.session.State != StateActive {
		m.mu.Unlock()
		return m.fail("No session", ErrNotActive)
	}
	oldID := m.session.ID
	m.session.State = StateSwitchingModel
	m.resetLocked()
	s := m.session
	m.mu.Unlock()
	m.Emit(EventSessionChanged, s)
	m.emitReset()

	m.endRemote(ctx, oldID)
	return m.start(ctx, cfg)
}

// EndSession stops the active session and clears prompts and suggestions.
func (m *Manager) EndSession(ctx context.Context) error {
	m.mu.Lock()
	if m.session.State != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	id := m.session.ID
	m.session.State = StateEnding
	m.resetLocked()
	s := m.session
	m.mu.Unlock()
	m.Emit(EventSessionChanged, s)
	m.emitReset()

	m.endRemote(ctx, id)

	m.mu.Lock()
	m.session.ID = ""
	m.mu.Unlock()
	m.setState(StateIdle)
	m.log.WithFields(logrus.Fields{"session_id": id}).Info("[sam.EndSession] session ended")
	return nil
}

// endRemote releases a server session. Failures only matter to the server.
func (m *Manager) endRemote(ctx context.Context, id string) {
	if id == "" {
		return
	}
	err := m.seg.EndSession(ctx, id)
	if err != nil && !errors.Is(err, segmentation.ErrNoSession) {
		m.log.WithFields(logrus.Fields{"session_id": id, "error": err.Error()}).Warn("[sam.endRemote] end session failed")
	}
}

// Close ends the session if one is active.
func (m *Manager) Close(ctx context.Context) {
	if err := m.EndSession(ctx); err != nil && !errors.Is(err, ErrNotActive) {
		m.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("[sam.Close] end session failed")
	}
}

// SetImage binds prompts to imageID. Changing image drops points,
// suggestions and requests still in flight.
func (m *Manager) SetImage(imageID string) {
	m.mu.Lock()
	if m.imageID == imageID {
		m.mu.Unlock()
		return
	}
	m.imageID = imageID
	m.resetLocked()
	m.mu.Unlock()
	m.emitReset()
}

func (m *Manager) ImageID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imageID
}

// AddPoint appends a prompt point. Labels other than 0 count as positive.
func (m *Manager) AddPoint(p segmentation.Point) error {
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		return ErrPointOutside
	}
	if p.Label != segmentation.LabelNegative {
		p.Label = segmentation.LabelPositive
	}

	m.mu.Lock()
	if m.session.State != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	m.points = append(m.points, p)
	n := len(m.points)
	m.mu.Unlock()

	m.Emit(EventPointsChanged, n)
	return nil
}

func (m *Manager) ClearPoints() {
	m.mu.Lock()
	m.points = nil
	m.mu.Unlock()
	m.Emit(EventPointsChanged, 0)
}

// Points returns a copy of the prompt points.
func (m *Manager) Points() []segmentation.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]segmentation.Point(nil), m.points...)
}

// IsProcessing reports whether a request of kind is in flight.
func (m *Manager) IsProcessing(kind segmentation.Kind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.flights[kind]
	return ok
}

// Processing reports whether any request is in flight.
func (m *Manager) Processing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.flights) > 0
}

// SegmentWithPoints segments from the current prompt points.
func (m *Manager) SegmentWithPoints(ctx context.Context) ([]Suggestion, error) {
	points := m.Points()
	if len(points) == 0 {
		if !m.Session().IsActive() {
			return nil, m.fail("No session", ErrNotActive)
		}
		return nil, m.fail("Segmentation", ErrNoPoints)
	}
	return m.segment(ctx, segmentation.Request{Kind: segmentation.KindPoint, Points: points})
}

// SegmentWithBox segments the region inside box.
func (m *Manager) SegmentWithBox(ctx context.Context, box geometry.Rect) ([]Suggestion, error) {
	box = box.Normalize()
	if box.Area() == 0 {
		return nil, m.fail("Segmentation", ErrEmptyBox)
	}
	b := segmentation.BBoxFromRect(box)
	return m.segment(ctx, segmentation.Request{Kind: segmentation.KindBox, Box: &b})
}

// SegmentWithText segments regions matching a text prompt.
func (m *Manager) SegmentWithText(ctx context.Context, text string) ([]Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, m.fail("Segmentation", ErrEmptyText)
	}
	return m.segment(ctx, segmentation.Request{Kind: segmentation.KindText, Text: text})
}

// SegmentSimilar finds regions resembling an existing annotation.
func (m *Manager) SegmentSimilar(ctx context.Context, annotationID string) ([]Suggestion, error) {
	if annotationID == "" {
		return nil, m.fail("Segmentation", ErrMissingTarget)
	}
	return m.segment(ctx, segmentation.Request{Kind: segmentation.KindSimilar, AnnotationID: annotationID})
}

// PropagateFromPrevious proposes the annotations of sourceImageID on the
// current image.
func (m *Manager) PropagateFromPrevious(ctx context.Context, sourceImageID string) ([]Suggestion, error) {
	if sourceImageID == "" {
		return nil, m.fail("Segmentation", ErrMissingTarget)
	}
	return m.segment(ctx, segmentation.Request{Kind: segmentation.KindPropagated, SourceImageID: sourceImageID})
}

func (m *Manager) segment(parent context.Context, req segmentation.Request) ([]Suggestion, error) {
	m.mu.Lock()
	if m.session.State != StateActive {
		m.mu.Unlock()
		return nil, m.fail("No session", ErrNotActive)
	}
	if req.ImageID == "" {
		req.ImageID = m.imageID
	}
	sessionID := m.session.ID
	epoch := m.epoch
	if prev, ok := m.flights[req.Kind]; ok {
		prev.cancel()
	}
	m.gen++
	gen := m.gen

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, m.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	m.flights[req.Kind] = &flight{gen: gen, cancel: cancel}
	m.mu.Unlock()
	m.Emit(EventProcessingChanged, req.Kind)

	defer m.finish(req.Kind, gen, cancel)

	fields := logrus.Fields{"kind": string(req.Kind), "session_id": sessionID, "image_id": req.ImageID}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, m.requestError(ctx, req.Kind, gen, epoch, err)
	}
	results, err := m.seg.Segment(ctx, sessionID, req)
	if err != nil {
		return nil, m.requestError(ctx, req.Kind, gen, epoch, err)
	}

	out := make([]Suggestion, 0, len(results))
	for _, r := range results {
		if s, ok := fromResult(r, req.Kind, m.ids.next(), m.log); ok {
			out = append(out, s)
		}
	}

	m.mu.Lock()
	if !m.currentLocked(req.Kind, gen, epoch) {
		m.mu.Unlock()
		m.log.WithFields(fields).Debug("[sam.segment] dropping superseded result")
		return nil, ErrSuperseded
	}
	m.suggestions = append(m.suggestions, out...)
	pending := len(m.suggestions)
	m.mu.Unlock()

	m.Emit(EventSuggestionsChanged, pending)
	fields["count"] = len(out)
	m.log.WithFields(fields).Info("[sam.segment] suggestions received")
	return out, nil
}

func (m *Manager) currentLocked(kind segmentation.Kind, gen, epoch uint64) bool {
	f, ok := m.flights[kind]
	return ok && f.gen == gen && m.epoch == epoch
}

func (m *Manager) finish(kind segmentation.Kind, gen uint64, cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	if f, ok := m.flights[kind]; ok && f.gen == gen {
		delete(m.flights, kind)
	}
	m.mu.Unlock()
	m.Emit(EventProcessingChanged, kind)
}

func (m *Manager) requestError(ctx context.Context, kind segmentation.Kind, gen, epoch uint64, err error) error {
	m.mu.RLock()
	current := m.currentLocked(kind, gen, epoch)
	m.mu.RUnlock()

	switch {
	case !current:
		return ErrSuperseded
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		m.log.WithFields(logrus.Fields{"kind": string(kind), "timeout": m.opts.Timeout.String()}).Warn("[sam.segment] request timed out")
		return m.fail("Segmentation timed out", fmt.Errorf("%w: %s request after %s", ErrTimeout, kind, m.opts.Timeout))
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.Concurrency, err)
	case errors.Is(err, segmentation.ErrNoSession):
		return m.fail("Session expired", apperr.Wrapf(apperr.Session, err, "segment %s", kind))
	default:
		m.log.WithFields(logrus.Fields{"kind": string(kind), "error": err.Error()}).Error("[sam.segment] request failed")
		return m.fail("Segmentation failed", apperr.Wrapf(apperr.Network, err, "segment %s", kind))
	}
}

// Suggestions returns the pending suggestions in arrival order.
func (m *Manager) Suggestions() []Suggestion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Suggestion, len(m.suggestions))
	copy(out, m.suggestions)
	return out
}

// Suggestion returns the pending suggestion with id.
func (m *Manager) Suggestion(id string) (Suggestion, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.suggestions {
		if s.ID == id {
			return s, true
		}
	}
	return Suggestion{}, false
}

func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.suggestions)
}

// take removes the pending suggestions named by ids, preserving pending
// order, and marks them with status.
func (m *Manager) take(ids []string, status Status) []Suggestion {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	m.mu.Lock()
	var taken []Suggestion
	kept := m.suggestions[:0:0]
	for _, s := range m.suggestions {
		if _, ok := want[s.ID]; ok {
			s.Status = status
			taken = append(taken, s)
			continue
		}
		kept = append(kept, s)
	}
	m.suggestions = kept
	pending := len(kept)
	m.mu.Unlock()

	if len(taken) > 0 {
		m.Emit(EventSuggestionsChanged, pending)
	}
	return taken
}

// Accept converts the named suggestions to shapes, in pending order, and
// hands them to the sink. Unknown ids are ignored. Accepting a point
// suggestion consumes the prompt points.
func (m *Manager) Accept(ctx context.Context, ids []string) ([]Suggestion, error) {
	if m.sink == nil {
		return nil, m.fail("Accept suggestion", ErrNoSink)
	}
	accepted := m.take(ids, StatusAccepted)
	if len(accepted) == 0 {
		return nil, nil
	}

	shapes := make([]annotation.Shape, len(accepted))
	clearPoints := false
	m.mu.Lock()
	for i, s := range accepted {
		shapes[i] = ToShape(s, m.opts.DefaultLabel, m.rng)
		accepted[i].ShapeID = shapes[i].ShapeID()
		if s.Type == segmentation.KindPoint {
			clearPoints = true
		}
	}
	if clearPoints {
		m.points = nil
	}
	m.mu.Unlock()
	if clearPoints {
		m.Emit(EventPointsChanged, 0)
	}

	m.log.WithFields(logrus.Fields{"count": len(accepted)}).Info("[sam.Accept] suggestions accepted")
	return accepted, m.sink.AddShapes(ctx, shapes)
}

// Reject discards the named suggestions.
func (m *Manager) Reject(ids []string) []Suggestion {
	rejected := m.take(ids, StatusRejected)
	if len(rejected) > 0 {
		m.log.WithFields(logrus.Fields{"count": len(rejected)}).Debug("[sam.Reject] suggestions rejected")
	}
	return rejected
}

// ClearSuggestions discards every pending suggestion.
func (m *Manager) ClearSuggestions() {
	m.mu.Lock()
	n := len(m.suggestions)
	m.suggestions = nil
	m.mu.Unlock()
	if n > 0 {
		m.Emit(EventSuggestionsChanged, 0)
	}
}
