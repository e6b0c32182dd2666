package platform

// Annotation types on the wire.
const (
	TypeBBox    = "bbox"
	TypePolygon = "polygon"
)

// Annotation is the backend representation of a shape.
//
// For TypeBBox, Data is [x1, y1, x2, y2]. For TypePolygon, Data is the
// flattened vertex list [x1, y1, x2, y2, ...]. All values are normalized.
type Annotation struct {
	ID          string    `json:"id,omitempty"`
	UID         string    `json:"uid"`
	ImageID     string    `json:"image_id,omitempty"`
	Type        string    `json:"type"`
	ClassName   string    `json:"class_name"`
	ClassID     *int      `json:"class_id,omitempty"`
	Color       string    `json:"color,omitempty"`
	Data        []float64 `json:"data"`
	Source      string    `json:"source,omitempty"`
	Confidence  float64   `json:"confidence"`
	TimeSeconds float64   `json:"time_seconds"`
}

// Key returns the identifier used in annotation URLs.
func (a Annotation) Key() string {
	if a.UID != "" {
		return a.UID
	}
	return a.ID
}

type listResponse struct {
	Annotations []Annotation `json:"annotations"`
}

type batchRequest struct {
	ImageID     string       `json:"image_id"`
	Annotations []Annotation `json:"annotations"`
}

// JobImage is one entry of a job's ordered image list.
type JobImage struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type jobImagesResponse struct {
	Images []JobImage `json:"images"`
}
