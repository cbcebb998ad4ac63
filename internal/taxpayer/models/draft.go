package models

// DraftField is one form input paired with its current validation message.
type DraftField struct {
	Value string `json:"value"`
	Error string `json:"error,omitempty"`
}

// Draft is the unsaved creation form. It is a plain value: every change
// produces a new Draft, so a caller holding an older copy never observes
// later edits.
type Draft struct {
	Identifier DraftField `json:"identifier"`
	FirstName  DraftField `json:"firstName"`
	LastName   DraftField `json:"lastName"`
	Address    DraftField `json:"address"`
}

// EmptyDraft returns four empty fields with no errors.
func EmptyDraft() Draft {
	return Draft{}
}

// DraftFrom copies a record's values into a draft without validating them.
func DraftFrom(r TaxpayerRecord) Draft {
	var d Draft
	for _, f := range Fields {
		d = d.set(f, DraftField{Value: r.Value(f)})
	}
	return d
}

// Field returns the draft state for f.
func (d Draft) Field(f Field) DraftField {
	switch f {
	case FieldIdentifier:
		return d.Identifier
	case FieldFirstName:
		return d.FirstName
	case FieldLastName:
		return d.LastName
	case FieldAddress:
		return d.Address
	}
	return DraftField{}
}

// WithValue returns a draft with f set to value and f's error recomputed.
// Other fields are left as they were.
func (d Draft) WithValue(f Field, value string) Draft {
	return d.set(f, DraftField{Value: value, Error: ValidateField(f, value)})
}

// Validated recomputes every field's error. ok is false when any field fails.
func (d Draft) Validated() (Draft, bool) {
	ok := true
	for _, f := range Fields {
		v := d.Field(f).Value
		msg := ValidateField(f, v)
		if msg != "" {
			ok = false
		}
		d = d.set(f, DraftField{Value: v, Error: msg})
	}
	return d, ok
}

// Record returns the draft's values as a record.
func (d Draft) Record() TaxpayerRecord {
	var r TaxpayerRecord
	for _, f := range Fields {
		r = r.With(f, d.Field(f).Value)
	}
	return r
}

// Errors returns the fields that currently carry an error, or nil.
func (d Draft) Errors() FieldErrors {
	var errs FieldErrors
	for _, f := range Fields {
		if msg := d.Field(f).Error; msg != "" {
			if errs == nil {
				errs = FieldErrors{}
			}
			errs[f] = msg
		}
	}
	return errs
}

func (d Draft) set(f Field, v DraftField) Draft {
	switch f {
	case FieldIdentifier:
		d.Identifier = v
	case FieldFirstName:
		d.FirstName = v
	case FieldLastName:
		d.LastName = v
	case FieldAddress:
		d.Address = v
	}
	return d
}
