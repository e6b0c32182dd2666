package drawing

import "vision-annotator/internal/apperr"

var (
	ErrNothingInProgress = apperr.New(apperr.Validation, "no drawing in progress")
	ErrPolygonOpen       = apperr.New(apperr.Validation, "polygon needs at least 3 points to close")
)
