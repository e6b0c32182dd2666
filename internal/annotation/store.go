package annotation

import (
	"sync"

	"vision-annotator/pkg/geometry"
)

// SyncState tracks whether a shape matches the backend copy.
type SyncState int

const (
	// Unsynced shapes exist only locally.
	Unsynced SyncState = iota
	// Synced shapes match the backend.
	Synced
	// Modified shapes were persisted once and edited since.
	Modified
)

func (s SyncState) String() string {
	switch s {
	case Synced:
		return "synced"
	case Modified:
		return "modified"
	default:
		return "unsynced"
	}
}

// EventType identifies store events.
type EventType int

const (
	EventShapeAdded EventType = iota
	EventShapeUpdated
	EventShapeRemoved
	EventShapesReplaced
	EventSelectionChanged
	EventSyncChanged
	EventReset
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Entry is a read-only view of one stored shape.
type Entry struct {
	Shape    Shape
	Sync     SyncState
	Selected bool
}

type record struct {
	shape Shape
	sync  SyncState
	// rev counts updates since the shape was added or loaded.
	rev   uint64
}

// Store is the canonical list of shapes for the displayed image.
// Shapes are kept in insertion order and ids are unique.
type Store struct {
	mu sync.RWMutex

	imageID string
	order   []string
	records map[string]*record

	selected string

	// hasSyncedInitial is set by the first ReplaceAll for the image,
	// dirty by any local mutation. Both are cleared by Reset.
	hasSyncedInitial bool
	dirty            bool

	listeners map[EventType][]EventListener
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:   make(map[string]*record),
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers an event listener for the specified event type.
func (s *Store) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *Store) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Reset drops every shape and transient flag and binds the store to imageID.
func (s *Store) Reset(imageID string) {
	s.mu.Lock()
	s.imageID = imageID
	s.order = nil
	s.records = make(map[string]*record)
	s.selected = ""
	s.hasSyncedInitial = false
	s.dirty = false
	s.mu.Unlock()

	s.Emit(EventReset, imageID)
}

// ImageID returns the image the store currently holds shapes for.
func (s *Store) ImageID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageID
}

// HasSyncedInitial reports whether the initial server snapshot was applied.
func (s *Store) HasSyncedInitial() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasSyncedInitial
}

// IsDirty reports whether any local edit happened since the last Reset.
func (s *Store) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Len returns the number of shapes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// GetAll returns copies of all shapes in insertion order.
func (s *Store) GetAll() []Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Shape, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].shape.Clone())
	}
	return out
}

// Entries returns shapes with their sync and selection state, in insertion order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		r := s.records[id]
		out = append(out, Entry{Shape: r.shape.Clone(), Sync: r.sync, Selected: id == s.selected})
	}
	return out
}

// Get returns a copy of the shape with the given id.
func (s *Store) Get(id string) (Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.shape.Clone(), true
}

// Revision returns a copy of a shape together with its update count.
func (s *Store) Revision(id string) (Shape, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, 0, false
	}
	return r.shape.Clone(), r.rev, true
}

// SyncStateOf returns the sync state of a shape.
func (s *Store) SyncStateOf(id string) (SyncState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Unsynced, false
	}
	return r.sync, true
}

// Add appends a validated shape. The shape starts Unsynced.
func (s *Store) Add(shape Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	id := shape.ShapeID()
	if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		return ErrDuplicateID
	}
	s.records[id] = &record{shape: shape.Clone(), sync: Unsynced}
	s.order = append(s.order, id)
	s.dirty = true
	s.mu.Unlock()

	s.Emit(EventShapeAdded, id)
	return nil
}

// Update applies a partial update to a shape. Geometry is not validated so
// that drag edits may pass through degenerate sizes.
func (s *Store) Update(id string, patch Patch) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	next, err := patch.Apply(r.shape)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	r.shape = next
	r.rev++
	if r.sync == Synced {
		r.sync = Modified
	}
	s.dirty = true
	s.mu.Unlock()

	s.Emit(EventShapeUpdated, id)
	return nil
}

// Remove deletes a shape and returns the removed copy and its last sync state.
func (s *Store) Remove(id string) (Shape, SyncState, error) {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return nil, Unsynced, ErrNotFound
	}
	delete(s.records, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	selectionCleared := s.selected == id
	if selectionCleared {
		s.selected = ""
	}
	s.dirty = true
	s.mu.Unlock()

	s.Emit(EventShapeRemoved, id)
	if selectionCleared {
		s.Emit(EventSelectionChanged, "")
	}
	return r.shape, r.sync, nil
}

// ReplaceAll installs the server snapshot for imageID. It applies at most once
// per image: a snapshot for another image returns ErrStaleImage, and once the
// initial snapshot is in, later calls return ErrAlreadySynced or, if the user
// has edited since, ErrLocalEditsExist. Shapes added locally before the first
// snapshot arrives are kept after the server shapes.
func (s *Store) ReplaceAll(imageID string, shapes []Shape) error {
	s.mu.Lock()
	if imageID != s.imageID {
		s.mu.Unlock()
		return ErrStaleImage
	}
	if s.hasSyncedInitial {
		dirty := s.dirty
		s.mu.Unlock()
		if dirty {
			return ErrLocalEditsExist
		}
		return ErrAlreadySynced
	}

	records := make(map[string]*record, len(shapes)+len(s.order))
	order := make([]string, 0, len(shapes)+len(s.order))
	for _, sh := range shapes {
		id := sh.ShapeID()
		if id == "" {
			continue
		}
		if _, local := s.records[id]; local {
			continue
		}
		if _, dup := records[id]; dup {
			continue
		}
		records[id] = &record{shape: sh.Clone(), sync: Synced}
		order = append(order, id)
	}
	for _, id := range s.order {
		records[id] = s.records[id]
		order = append(order, id)
	}

	s.records = records
	s.order = order
	s.hasSyncedInitial = true
	s.mu.Unlock()

	s.Emit(EventShapesReplaced, imageID)
	return nil
}

// MarkSynced records that the backend now holds the current version of a shape.
func (s *Store) MarkSynced(id string) {
	s.setSync(id, Synced)
}

// MarkModified records that the backend holds an older version of a shape.
func (s *Store) MarkModified(id string) {
	s.setSync(id, Modified)
}

// MarkUnsynced flags a shape whose save failed.
func (s *Store) MarkUnsynced(id string) {
	s.setSync(id, Unsynced)
}

func (s *Store) setSync(id string, state SyncState) {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok || r.sync == state {
		s.mu.Unlock()
		return
	}
	r.sync = state
	s.mu.Unlock()

	s.Emit(EventSyncChanged, id)
}

// Pending returns shapes that are Unsynced or Modified, in insertion order.
func (s *Store) Pending() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, id := range s.order {
		r := s.records[id]
		if r.sync != Synced {
			out = append(out, Entry{Shape: r.shape.Clone(), Sync: r.sync})
		}
	}
	return out
}

// Select sets the selected shape. An empty id clears the selection.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	if id != "" {
		if _, ok := s.records[id]; !ok {
			s.mu.Unlock()
			return ErrNotFound
		}
	}
	changed := s.selected != id
	s.selected = id
	s.mu.Unlock()

	if changed {
		s.Emit(EventSelectionChanged, id)
	}
	return nil
}

// Selected returns the selected shape id, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// HitTest returns the id of the topmost shape under p, or "".
func (s *Store) HitTest(p geometry.Point2D, tolerance float64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		id := s.order[i]
		if s.records[id].shape.HitTest(p, tolerance) {
			return id
		}
	}
	return ""
}

// LabelGroup lists shape ids sharing a label.
type LabelGroup struct {
	Label string
	IDs   []string
}

// GroupByLabel groups shapes by label. Groups appear in order of first use.
func (s *Store) GroupByLabel() []LabelGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := make(map[string]int)
	var groups []LabelGroup
	for _, id := range s.order {
		label := s.records[id].shape.Attributes().Label
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, LabelGroup{Label: label})
		}
		groups[i].IDs = append(groups[i].IDs, id)
	}
	return groups
}
