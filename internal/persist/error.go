package persist

import "vision-annotator/internal/apperr"

var (
	ErrNotAttached   = apperr.New(apperr.Validation, "no image attached")
	ErrUnknownType   = apperr.New(apperr.Validation, "unknown annotation type")
	ErrMalformedData = apperr.New(apperr.Validation, "malformed annotation data")
	ErrCreateFailed  = apperr.New(apperr.Network, "annotation create failed")
)
