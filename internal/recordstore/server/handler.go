// Package server exposes a store.Backend over the record store wire protocol.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"taxdesk/internal/platform/middleware"
	"taxdesk/internal/recordstore/store"
	"taxdesk/internal/taxpayer/models"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/platform/httputil"
)

const maxRequestBody = 1 << 20

// Handler serves list, search and create for one backend.
type Handler struct {
	backend store.Backend
	logger  *slog.Logger
}

func New(backend store.Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{backend: backend, logger: logger}
}

// Register mounts the taxpayer routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/taxpayers", h.handleList)
	r.Post("/taxpayers/search", h.handleSearch)
	r.Post("/taxpayers", h.handleCreate)
}

type searchRequest struct {
	Term *string `json:"term"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.backend.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list taxpayers",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list taxpayers"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req searchRequest
	if err := decode(w, r, &req); err != nil || req.Term == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "term is required"))
		return
	}
	records, err := h.backend.Search(ctx, *req.Term)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to search taxpayers",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to search taxpayers"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var record models.TaxpayerRecord
	if err := decode(w, r, &record); err != nil {
		h.logger.WarnContext(ctx, "invalid create taxpayer request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	err := h.backend.Create(ctx, record)
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "taxpayer created",
			"request_id", requestID,
			"identifier", record.Identifier,
		)
		httputil.WriteJSON(w, http.StatusCreated, record)
	case errors.Is(err, store.ErrConflict):
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "taxpayer "+record.Identifier+" already exists"))
	default:
		if fe, ok := models.AsFieldErrors(err); ok {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, fe.Error()))
			return
		}
		h.logger.ErrorContext(ctx, "failed to create taxpayer",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create taxpayer"))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
