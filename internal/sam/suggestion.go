package sam

import (
	"crypto/rand"
	"io"
	"math"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"vision-annotator/internal/annotation"
	"vision-annotator/pkg/colorutil"
	"vision-annotator/pkg/geometry"
	"vision-annotator/pkg/mask"
	"vision-annotator/pkg/segmentation"
)

// Status is the review state of a suggestion. Only pending suggestions are
// kept in the manager's list.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Suggestion is a region proposed by the segmentation service.
type Suggestion struct {
	ID             string
	Type           segmentation.Kind
	BBox           geometry.Rect
	SuggestedLabel string
	Confidence     float64
	Status         Status
	// Polygon is the simplified mask outline, when the service returned a mask.
	Polygon []geometry.Point2D
	// ShapeID is the shape an accepted suggestion became.
	ShapeID string
}

// idSource issues monotonic ULIDs so ids sort in arrival order.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// fromResult converts a service result. Results without a usable box fall
// back to the mask bounds. Results too small to become a box are dropped.
func fromResult(r segmentation.Result, kind segmentation.Kind, id string, log *logrus.Logger) (Suggestion, bool) {
	s := Suggestion{
		ID:             id,
		Type:           kind,
		BBox:           r.BBox.Rect().Normalize(),
		SuggestedLabel: r.SuggestedLabel,
		Confidence:     clamp01(r.Confidence),
		Status:         StatusPending,
	}

	if len(r.Polygon) >= annotation.MinPolygonPoints {
		s.Polygon = make([]geometry.Point2D, len(r.Polygon))
		for i, p := range r.Polygon {
			s.Polygon[i] = geometry.Point2D{X: p.X, Y: p.Y}
		}
	} else if r.Mask != "" {
		region, err := decodeMask(r.Mask)
		if err != nil {
			log.WithFields(logrus.Fields{"error": err.Error()}).Warn("[sam.fromResult] unusable mask")
		} else {
			s.Polygon = region.Polygon
			if r.BBox.Empty() {
				s.BBox = region.BBox
			}
		}
	}

	if s.BBox.Area() == 0 && len(s.Polygon) >= annotation.MinPolygonPoints {
		s.BBox = geometry.BoundingBox(s.Polygon)
	}
	if !(s.BBox.Area() > annotation.MinBoxArea) {
		return Suggestion{}, false
	}
	return s, true
}

func decodeMask(encoded string) (mask.Region, error) {
	data, err := mask.DecodeBase64(encoded)
	if err != nil {
		return mask.Region{}, err
	}
	return mask.Largest(data, mask.DefaultEpsilon)
}

// ToShape converts an accepted suggestion into a new box. The label falls
// back to defaultLabel; the color comes from the label palette when the
// service suggested a label and is random otherwise.
func ToShape(s Suggestion, defaultLabel string, rng *mrand.Rand) annotation.Shape {
	label := s.SuggestedLabel
	color := colorutil.ForLabel(label)
	if label == "" {
		label = defaultLabel
	}
	if color == "" {
		color = colorutil.Random(rng)
	}

	return &annotation.Box{
		Attrs: annotation.Attrs{
			ID:         annotation.NewID(),
			Label:      label,
			Color:      color,
			Source:     annotation.SourceAI,
			Confidence: s.Confidence,
		},
		Rect: s.BBox.Normalize(),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
