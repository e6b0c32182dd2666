// Package mask turns binary segmentation masks into polygons.
package mask

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"

	"vision-annotator/pkg/geometry"
)

// DefaultEpsilon is the polygon simplification tolerance as a fraction of the contour perimeter.
const DefaultEpsilon = 0.005

// ErrEmptyMask is returned when a mask has no foreground region.
var ErrEmptyMask = errors.New("mask has no foreground")

// Region is the largest foreground region of a mask, in normalized coordinates.
type Region struct {
	Polygon []geometry.Point2D
	BBox    geometry.Rect
	// Area is the fraction of the image covered by the contour.
	Area float64
}

// DecodeBase64 decodes a base64 mask payload, tolerating a data URL prefix.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	return data, nil
}

// Largest decodes an encoded mask image and returns its largest external
// contour simplified with epsilon (fraction of perimeter).
func Largest(encoded []byte, epsilon float64) (Region, error) {
	src, err := gocv.IMDecode(encoded, gocv.IMReadGrayScale)
	if err != nil {
		return Region{}, fmt.Errorf("decode mask image: %w", err)
	}
	defer src.Close()
	if src.Empty() {
		return Region{}, fmt.Errorf("decode mask image: empty result")
	}

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(src, &binary, 127, 255, gocv.ThresholdBinary)

	// Close small holes so one object yields one contour
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphClose, kernel)

	return largestContour(binary, epsilon)
}

func largestContour(binary gocv.Mat, epsilon float64) (Region, error) {
	w, h := float64(binary.Cols()), float64(binary.Rows())

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := -1
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			bestArea = area
			best = i
		}
	}
	if best < 0 {
		return Region{}, ErrEmptyMask
	}

	contour := contours.At(best)
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	approx := gocv.ApproxPolyDP(contour, epsilon*gocv.ArcLength(contour, true), true)
	defer approx.Close()

	pts := approx.ToPoints()
	if len(pts) < 3 {
		pts = contour.ToPoints()
	}

	poly := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		poly[i] = geometry.Point2D{X: float64(p.X) / w, Y: float64(p.Y) / h}
	}

	rect := gocv.BoundingRect(contour)
	return Region{
		Polygon: poly,
		BBox: geometry.NewRect(
			float64(rect.Min.X)/w, float64(rect.Min.Y)/h,
			float64(rect.Dx())/w, float64(rect.Dy())/h,
		),
		Area: bestArea / (w * h),
	}, nil
}
