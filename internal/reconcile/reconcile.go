// Package reconcile moves suggestions between the review list and the
// annotation store.
package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"vision-annotator/internal/annotation"
	"vision-annotator/internal/sam"
	"vision-annotator/pkg/geometry"
)

// Suggestions is the part of the session manager the reconciler drives.
type Suggestions interface {
	Suggestions() []sam.Suggestion
	Suggestion(id string) (sam.Suggestion, bool)
	Accept(ctx context.Context, ids []string) ([]sam.Suggestion, error)
	Reject(ids []string) []sam.Suggestion
	ClearSuggestions()
}

// Reconciler applies review decisions. Accepted suggestions become shapes
// in the store through the manager's sink.
type Reconciler struct {
	suggestions Suggestions
	store       *annotation.Store
	log         *logrus.Logger
}

func New(suggestions Suggestions, store *annotation.Store, log *logrus.Logger) *Reconciler {
	return &Reconciler{suggestions: suggestions, store: store, log: log}
}

// Pending returns the suggestions awaiting review, in arrival order.
func (r *Reconciler) Pending() []sam.Suggestion {
	return r.suggestions.Suggestions()
}

// Badge is the count shown on bulk action buttons.
func (r *Reconciler) Badge() int {
	return len(r.suggestions.Suggestions())
}

// AcceptAll accepts every pending suggestion in one batch. The resulting
// shapes are appended to the store in pending order.
func (r *Reconciler) AcceptAll(ctx context.Context) ([]sam.Suggestion, error) {
	pending := r.suggestions.Suggestions()
	if len(pending) == 0 {
		return nil, nil
	}
	ids := make([]string, len(pending))
	for i, s := range pending {
		ids[i] = s.ID
	}

	accepted, err := r.suggestions.Accept(ctx, ids)
	r.log.WithFields(logrus.Fields{"count": len(accepted)}).Info("[reconcile.AcceptAll] accepted all suggestions")
	return accepted, err
}

// AcceptOne accepts a single suggestion and selects the shape it became.
func (r *Reconciler) AcceptOne(ctx context.Context, id string) (sam.Suggestion, bool, error) {
	accepted, err := r.suggestions.Accept(ctx, []string{id})
	if len(accepted) == 0 {
		return sam.Suggestion{}, false, err
	}
	s := accepted[0]
	if _, ok := r.store.Get(s.ShapeID); ok {
		if serr := r.store.Select(s.ShapeID); serr != nil {
			r.log.WithFields(logrus.Fields{"shape_id": s.ShapeID, "error": serr.Error()}).Warn("[reconcile.AcceptOne] select failed")
		}
	}
	return s, true, err
}

// RejectOne discards a single suggestion.
func (r *Reconciler) RejectOne(id string) bool {
	return len(r.suggestions.Reject([]string{id})) > 0
}

// RejectAll discards every pending suggestion and reports how many there were.
func (r *Reconciler) RejectAll() int {
	n := len(r.suggestions.Suggestions())
	r.suggestions.ClearSuggestions()
	return n
}

// Target picks the suggestion keyboard accept and reject act on: the
// hovered one when it is still pending, otherwise the oldest pending.
func (r *Reconciler) Target(hovered string) (sam.Suggestion, bool) {
	if hovered != "" {
		if s, ok := r.suggestions.Suggestion(hovered); ok {
			return s, true
		}
	}
	pending := r.suggestions.Suggestions()
	if len(pending) == 0 {
		return sam.Suggestion{}, false
	}
	return pending[0], true
}

// At returns the topmost pending suggestion whose box contains p.
func (r *Reconciler) At(p geometry.Point2D) (sam.Suggestion, bool) {
	pending := r.suggestions.Suggestions()
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].BBox.Contains(p) {
			return pending[i], true
		}
	}
	return sam.Suggestion{}, false
}
