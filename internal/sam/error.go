package sam

import "vision-annotator/internal/apperr"

var (
	ErrInvalidConfig = apperr.New(apperr.Validation, "invalid model configuration")
	ErrNotActive     = apperr.New(apperr.Session, "no active segmentation session")
	ErrSessionBusy   = apperr.New(apperr.Session, "segmentation session is already running")
	ErrNoPoints      = apperr.New(apperr.Validation, "add at least one point first")
	ErrEmptyBox      = apperr.New(apperr.Validation, "prompt box has no area")
	ErrEmptyText     = apperr.New(apperr.Validation, "text prompt is empty")
	ErrMissingTarget = apperr.New(apperr.Validation, "request needs a source id")
	ErrPointOutside  = apperr.New(apperr.Validation, "point is outside the image")
	ErrTimeout       = apperr.New(apperr.Network, "segmentation request timed out")
	ErrSuperseded    = apperr.New(apperr.Concurrency, "segmentation result superseded")
	ErrNoSink        = apperr.New(apperr.Validation, "no destination for accepted suggestions")
)
