// Package segmentation contains clients for the SAM segmentation service.
package segmentation

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"vision-annotator/pkg/geometry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoSession is returned when a request names an unknown session.
var ErrNoSession = errors.New("segmentation session not found")

// ModelConfig selects the model a session runs.
type ModelConfig struct {
	Model     string `json:"model" validate:"required,oneof=sam_v1 sam_v2 sam_v3"`
	Device    string `json:"device" validate:"required,oneof=cuda cpu"`
	Precision string `json:"precision" validate:"required,oneof=fp16 fp32"`
}

func (c ModelConfig) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Model, c.Device, c.Precision)
}

// Kind is the prompt type of a segmentation request.
type Kind string

const (
	KindPoint      Kind = "point"
	KindBox        Kind = "box"
	KindText       Kind = "text"
	KindSimilar    Kind = "similar"
	KindPropagated Kind = "propagated"
)

// Kinds lists every request kind.
var Kinds = []Kind{KindPoint, KindBox, KindText, KindSimilar, KindPropagated}

// Point is a prompt point. Label 1 includes the region, 0 excludes it.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label int     `json:"label"`
}

const (
	LabelNegative = 0
	LabelPositive = 1
)

// BBox is a normalized box.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect converts the box to a geometry rectangle.
func (b BBox) Rect() geometry.Rect {
	return geometry.NewRect(b.X, b.Y, b.Width, b.Height)
}

// BBoxFromRect converts a normalized rectangle to a BBox.
func BBoxFromRect(r geometry.Rect) BBox {
	r = r.Normalize()
	return BBox{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// Empty reports whether the box has no area.
func (b BBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Request is one segmentation prompt.
type Request struct {
	Kind          Kind    `json:"kind"`
	ImageID       string  `json:"image_id"`
	Points        []Point `json:"points,omitempty"`
	Box           *BBox   `json:"box,omitempty"`
	Text          string  `json:"text,omitempty"`
	AnnotationID  string  `json:"annotation_id,omitempty"`
	SourceImageID string  `json:"source_image_id,omitempty"`
}

// Result is one proposed region returned by the service. Mask, when
// present, is a base64 encoded single-channel PNG the size of the image.
type Result struct {
	BBox           BBox    `json:"bbox"`
	SuggestedLabel string  `json:"suggested_label,omitempty"`
	Confidence     float64 `json:"confidence"`
	Mask           string  `json:"mask,omitempty"`
	Polygon        []Point `json:"polygon,omitempty"`
}

// Segmenter is a segmentation service transport.
type Segmenter interface {
	StartSession(ctx context.Context, cfg ModelConfig) (string, error)
	Segment(ctx context.Context, sessionID string, req Request) ([]Result, error)
	EndSession(ctx context.Context, sessionID string) error
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

type segmentResponse struct {
	Suggestions []Result `json:"suggestions"`
}
