package persist

import (
	"vision-annotator/internal/annotation"
	"vision-annotator/pkg/geometry"
	"vision-annotator/pkg/platform"
)

// ToWire converts a shape to its backend representation.
func ToWire(s annotation.Shape, timeSeconds float64) platform.Annotation {
	attrs := s.Attributes()
	a := platform.Annotation{
		UID:         attrs.ID,
		ClassName:   attrs.Label,
		ClassID:     attrs.ClassID,
		Color:       attrs.Color,
		Source:      string(attrs.Source),
		Confidence:  attrs.Confidence,
		TimeSeconds: timeSeconds,
	}
	if a.Source == "" {
		a.Source = string(annotation.SourceManual)
	}

	switch v := s.(type) {
	case *annotation.Box:
		r := v.Rect.Normalize()
		a.Type = platform.TypeBBox
		a.Data = []float64{r.X, r.Y, r.X + r.Width, r.Y + r.Height}
	case *annotation.Polygon:
		a.Type = platform.TypePolygon
		a.Data = make([]float64, 0, len(v.Points)*2)
		for _, p := range v.Points {
			a.Data = append(a.Data, p.X, p.Y)
		}
	}
	return a
}

// FromWire converts a backend annotation to a shape.
func FromWire(a platform.Annotation) (annotation.Shape, error) {
	attrs := annotation.Attrs{
		ID:         a.Key(),
		Label:      a.ClassName,
		Color:      a.Color,
		ClassID:    a.ClassID,
		Source:     annotation.Source(a.Source),
		Confidence: a.Confidence,
	}

	switch a.Type {
	case platform.TypeBBox, "box":
		if len(a.Data) != 4 {
			return nil, ErrMalformedData
		}
		r := geometry.RectFromCorners(
			geometry.Point2D{X: a.Data[0], Y: a.Data[1]},
			geometry.Point2D{X: a.Data[2], Y: a.Data[3]},
		).Normalize()
		return &annotation.Box{Attrs: attrs, Rect: r}, nil
	case platform.TypePolygon:
		if len(a.Data)%2 != 0 || len(a.Data) < 2*annotation.MinPolygonPoints {
			return nil, ErrMalformedData
		}
		pts := make([]geometry.Point2D, 0, len(a.Data)/2)
		for i := 0; i < len(a.Data); i += 2 {
			pts = append(pts, geometry.Point2D{X: a.Data[i], Y: a.Data[i+1]})
		}
		return &annotation.Polygon{Attrs: attrs, Points: pts}, nil
	}
	return nil, ErrUnknownType
}
