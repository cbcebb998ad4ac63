package models

import (
	"fmt"
	"strings"
)

// TaxpayerRecord is a taxpayer as held by the record store.
//
// Invariants:
//   - All four fields are non-empty
//   - Identifier is immutable once the record has been created
//   - Identifier uniqueness is owned by the record store, not by this type
type TaxpayerRecord struct {
	Identifier string `json:"identifier"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Address    string `json:"address"`
}

// Field names one of the four record fields. The string value is the wire
// and form name.
type Field string

const (
	FieldIdentifier Field = "identifier"
	FieldFirstName  Field = "firstName"
	FieldLastName   Field = "lastName"
	FieldAddress    Field = "address"
)

// Fields lists the record fields in form order.
var Fields = []Field{FieldIdentifier, FieldFirstName, FieldLastName, FieldAddress}

var fieldLabels = map[Field]string{
	FieldIdentifier: "TID",
	FieldFirstName:  "First Name",
	FieldLastName:   "Last Name",
	FieldAddress:    "Address",
}

// ParseField resolves a form field name.
func ParseField(name string) (Field, error) {
	f := Field(strings.TrimSpace(name))
	if _, ok := fieldLabels[f]; !ok {
		return "", fmt.Errorf("unknown field %q", name)
	}
	return f, nil
}

// Label is the human-readable field name used in validation messages.
func (f Field) Label() string {
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}

// Value returns the record's value for f.
func (r TaxpayerRecord) Value(f Field) string {
	switch f {
	case FieldIdentifier:
		return r.Identifier
	case FieldFirstName:
		return r.FirstName
	case FieldLastName:
		return r.LastName
	case FieldAddress:
		return r.Address
	}
	return ""
}

// With returns a copy of r with f set to value.
func (r TaxpayerRecord) With(f Field, value string) TaxpayerRecord {
	switch f {
	case FieldIdentifier:
		r.Identifier = value
	case FieldFirstName:
		r.FirstName = value
	case FieldLastName:
		r.LastName = value
	case FieldAddress:
		r.Address = value
	}
	return r
}

// Validate applies ValidateField to every field. It returns nil or a
// FieldErrors value.
func (r TaxpayerRecord) Validate() error {
	var errs FieldErrors
	for _, f := range Fields {
		if msg := ValidateField(f, r.Value(f)); msg != "" {
			if errs == nil {
				errs = FieldErrors{}
			}
			errs[f] = msg
		}
	}
	if errs == nil {
		return nil
	}
	return errs
}
