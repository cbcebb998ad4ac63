package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"taxdesk/internal/taxpayer/models"
	dErrors "taxdesk/pkg/domain-errors"
)

const maxRequestBody = 64 << 10

type termRequest struct {
	Term *string `json:"term"`
}

func (r *termRequest) Validate() error {
	if r.Term == nil {
		return dErrors.New(dErrors.CodeBadRequest, "term is required")
	}
	return nil
}

type draftFieldRequest struct {
	Field string  `json:"field"`
	Value *string `json:"value"`
}

func (r *draftFieldRequest) Validate() error {
	if r.Field == "" {
		return dErrors.New(dErrors.CodeBadRequest, "field is required")
	}
	if r.Value == nil {
		return dErrors.New(dErrors.CodeBadRequest, "value is required")
	}
	return nil
}

// decodeJSON reads a strict JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

// decodeOptionalRecord reads a record body. ok is false when the body is
// empty, which means "submit the held draft".
func decodeOptionalRecord(w http.ResponseWriter, r *http.Request) (models.TaxpayerRecord, bool, error) {
	var record models.TaxpayerRecord
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return record, false, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return record, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&record); err != nil {
		return record, false, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return record, true, nil
}

// waitParam reads the ?wait= flag.
func waitParam(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return false, nil
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.Wrap(errors.New(raw), dErrors.CodeBadRequest, "wait must be a boolean")
	}
	return wait, nil
}
