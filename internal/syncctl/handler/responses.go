package handler

import (
	"errors"

	"taxdesk/internal/recordstore"
	"taxdesk/internal/syncctl"
	"taxdesk/internal/taxpayer/models"
	"taxdesk/pkg/platform/httputil"
)

// callResponse describes a dispatched remote call. View is only set once the
// call has settled.
type callResponse struct {
	Op      recordstore.Op     `json:"op"`
	Seq     uint64             `json:"seq,omitempty"`
	Settled bool               `json:"settled"`
	Applied bool               `json:"applied,omitempty"`
	Error   *callError         `json:"error,omitempty"`
	Next    *callResponse      `json:"next,omitempty"`
	View    *syncctl.ViewState `json:"view,omitempty"`
}

type callError struct {
	Kind    recordstore.ErrorKind `json:"kind"`
	Message string                `json:"message"`
}

func pendingResponse(call *syncctl.Call) callResponse {
	return callResponse{Op: call.Op, Seq: call.Seq}
}

// settledResponse must only be built after call.Wait returned nil.
func settledResponse(call *syncctl.Call) *callResponse {
	if call == nil {
		return nil
	}
	resp := &callResponse{
		Op:      call.Op,
		Seq:     call.Seq,
		Settled: true,
		Applied: call.Applied(),
		Next:    settledResponse(call.Next()),
	}
	var se *recordstore.StoreError
	if errors.As(call.Err(), &se) {
		resp.Error = &callError{Kind: se.Kind, Message: se.Message}
	}
	return resp
}

// fieldErrorResponse is the error envelope plus per-field messages.
type fieldErrorResponse struct {
	httputil.ErrorResponse
	Fields models.FieldErrors `json:"fields"`
}
