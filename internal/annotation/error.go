package annotation

import "vision-annotator/internal/apperr"

var (
	ErrBoxTooSmall     = apperr.New(apperr.Validation, "box area is too small")
	ErrTooFewPoints    = apperr.New(apperr.Validation, "polygon needs at least 3 points")
	ErrMissingID       = apperr.New(apperr.Validation, "shape has no id")
	ErrDuplicateID     = apperr.New(apperr.Validation, "shape id already exists")
	ErrNotFound        = apperr.New(apperr.Validation, "shape not found")
	ErrPatchKind       = apperr.New(apperr.Validation, "patch does not apply to this shape kind")
	ErrStaleImage      = apperr.New(apperr.Concurrency, "result belongs to a different image")
	ErrLocalEditsExist = apperr.New(apperr.Concurrency, "local edits exist, server snapshot dropped")
	ErrAlreadySynced   = apperr.New(apperr.Concurrency, "image already synced")
)
