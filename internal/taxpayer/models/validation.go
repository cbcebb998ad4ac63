package models

import (
	"errors"
	"strings"
)

// ValidateField is the per-field rule for the creation form: a value is
// required. It returns the message to show, or "" when the value is valid.
// Fields are checked independently; there are no cross-field rules.
func ValidateField(f Field, value string) string {
	if value == "" {
		return f.Label() + " is required"
	}
	return ""
}

// FieldErrors maps each failing field to its FieldRequired message.
type FieldErrors map[Field]string

func (e FieldErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, f := range Fields {
		if msg, ok := e[f]; ok {
			parts = append(parts, string(f)+": "+msg)
		}
	}
	return "field required: " + strings.Join(parts, "; ")
}

// AsFieldErrors extracts FieldErrors from err's chain.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
