package syncctl

import (
	"slices"

	"taxdesk/internal/recordstore"
	"taxdesk/internal/taxpayer/models"
)

// Status is the coarse controller state shown to the user.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
)

// Notice is a remote failure waiting to be shown to the user.
type Notice struct {
	Kind    recordstore.ErrorKind `json:"kind"`
	Op      recordstore.Op        `json:"op"`
	Message string                `json:"message"`
}

// ViewState is everything the console renders.
//
// Invariants:
//   - Busy is true iff at least one remote call is outstanding
//   - Status is StatusLoading iff Busy
//   - Draft is non-nil iff ModalOpen
//   - Records is never nil
type ViewState struct {
	Version    uint64                  `json:"version"`
	Records    []models.TaxpayerRecord `json:"records"`
	SearchTerm string                  `json:"searchTerm"`
	Busy       bool                    `json:"busy"`
	Status     Status                  `json:"status"`
	ModalOpen  bool                    `json:"modalOpen"`
	Draft      *models.Draft           `json:"draft,omitempty"`
	Error      *Notice                 `json:"error,omitempty"`
}

func initialState() ViewState {
	return ViewState{
		Records: []models.TaxpayerRecord{},
		Status:  StatusIdle,
	}
}

// clone returns a copy that shares no memory with v.
func (v ViewState) clone() ViewState {
	out := v
	out.Records = slices.Clone(v.Records)
	if out.Records == nil {
		out.Records = []models.TaxpayerRecord{}
	}
	if v.Draft != nil {
		d := *v.Draft
		out.Draft = &d
	}
	if v.Error != nil {
		n := *v.Error
		out.Error = &n
	}
	return out
}

func noticeFrom(err *recordstore.StoreError) *Notice {
	return &Notice{Kind: err.Kind, Op: err.Op, Message: err.Message}
}
