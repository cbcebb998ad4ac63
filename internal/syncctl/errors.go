package syncctl

import (
	dErrors "taxdesk/pkg/domain-errors"
)

var (
	// ErrBusy refuses a submit while any remote call is outstanding.
	ErrBusy = dErrors.New(dErrors.CodeConflict, "a record store call is still in flight")

	// ErrModalClosed refuses draft edits and submits outside the create form.
	ErrModalClosed = dErrors.New(dErrors.CodeConflict, "the create form is not open")
)

// fieldsRequired wraps per-field messages so transports answer 422 while
// still being able to list them with models.AsFieldErrors.
func fieldsRequired(errs error) error {
	return dErrors.Wrap(errs, dErrors.CodeValidation, "required fields are missing")
}

func unknownField(err error) error {
	return dErrors.Wrap(err, dErrors.CodeBadRequest, "unknown form field")
}
