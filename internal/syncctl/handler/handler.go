// Package handler exposes the synchronization controller as the console's
// HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"taxdesk/internal/platform/middleware"
	"taxdesk/internal/syncctl"
	"taxdesk/internal/taxpayer/models"
	dErrors "taxdesk/pkg/domain-errors"
	"taxdesk/pkg/platform/httputil"
)

// Controller defines the controller commands the console drives.
type Controller interface {
	Refresh(ctx context.Context) *syncctl.Call
	Search(ctx context.Context, term string) *syncctl.Call
	SetSearchTerm(term string)
	OpenCreate()
	CloseCreate()
	SetDraftField(name, value string) error
	SubmitCreate(ctx context.Context, record models.TaxpayerRecord) (*syncctl.Call, error)
	SubmitDraft(ctx context.Context) (*syncctl.Call, error)
	DismissError()
	Snapshot() syncctl.ViewState
	Subscribe(fn func(syncctl.ViewState)) (cancel func())
}

// Handler serves the console routes.
type Handler struct {
	ctl       Controller
	logger    *slog.Logger
	keepAlive time.Duration
}

func New(ctl Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{ctl: ctl, logger: logger, keepAlive: 15 * time.Second}
}

// Register registers the console routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/view", h.handleView)
	r.Get("/view/events", h.handleEvents)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/search", h.handleSearch)
	r.Put("/search/term", h.handleSetSearchTerm)
	r.Post("/create", h.handleOpenCreate)
	r.Delete("/create", h.handleCloseCreate)
	r.Patch("/create/draft", h.handleSetDraftField)
	r.Post("/create/submit", h.handleSubmit)
	r.Delete("/error", h.handleDismissError)
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	wait, err := waitParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respondCall(w, r, h.ctl.Refresh(r.Context()), wait)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	wait, err := waitParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req termRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respondCall(w, r, h.ctl.Search(r.Context(), *req.Term), wait)
}

func (h *Handler) handleSetSearchTerm(w http.ResponseWriter, r *http.Request) {
	var req termRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.ctl.SetSearchTerm(*req.Term)
	httputil.WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) handleOpenCreate(w http.ResponseWriter, r *http.Request) {
	h.ctl.OpenCreate()
	httputil.WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) handleCloseCreate(w http.ResponseWriter, r *http.Request) {
	h.ctl.CloseCreate()
	httputil.WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) handleSetDraftField(w http.ResponseWriter, r *http.Request) {
	var req draftFieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.ctl.SetDraftField(req.Field, *req.Value); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wait, err := waitParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, hasBody, err := decodeOptionalRecord(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var call *syncctl.Call
	if hasBody {
		call, err = h.ctl.SubmitCreate(ctx, record)
	} else {
		call, err = h.ctl.SubmitDraft(ctx)
	}
	if err != nil {
		if fields, ok := models.AsFieldErrors(err); ok {
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, fieldErrorResponse{
				ErrorResponse: httputil.ErrorResponse{
					Error:            string(dErrors.CodeValidation),
					ErrorDescription: dErrors.MessageOf(err),
				},
				Fields: fields,
			})
			return
		}
		h.logger.InfoContext(ctx, "submit refused",
			"request_id", middleware.GetRequestID(ctx),
			"reason", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	h.respondCall(w, r, call, wait)
}

func (h *Handler) handleDismissError(w http.ResponseWriter, r *http.Request) {
	h.ctl.DismissError()
	httputil.WriteJSON(w, http.StatusOK, h.ctl.Snapshot())
}

// respondCall answers 202 straight away, or with wait blocks the request
// until the call (and any refresh it triggered) settles and answers 200.
func (h *Handler) respondCall(w http.ResponseWriter, r *http.Request, call *syncctl.Call, wait bool) {
	if !wait {
		httputil.WriteJSON(w, http.StatusAccepted, pendingResponse(call))
		return
	}
	if err := call.Wait(r.Context()); err != nil {
		// The client went away; the call itself carries on.
		h.logger.DebugContext(r.Context(), "stopped waiting for call",
			"request_id", middleware.GetRequestID(r.Context()),
			"op", string(call.Op),
		)
		return
	}
	resp := settledResponse(call)
	view := h.ctl.Snapshot()
	resp.View = &view
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleEvents streams one "view" event per state change. A slow reader
// skips intermediate states and always receives the latest one.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	updates := make(chan syncctl.ViewState, 1)
	cancel := h.ctl.Subscribe(func(v syncctl.ViewState) {
		for {
			select {
			case updates <- v:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	first := h.ctl.Snapshot()
	if err := writeEvent(w, first); err != nil {
		return
	}
	flusher.Flush()
	last := first.Version

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-updates:
			// A publish that raced the first snapshot may carry an older state.
			if v.Version <= last {
				continue
			}
			if err := writeEvent(w, v); err != nil {
				h.logger.DebugContext(ctx, "event stream closed",
					"request_id", middleware.GetRequestID(ctx),
					"error", err.Error(),
				)
				return
			}
			flusher.Flush()
			last = v.Version
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, v syncctl.ViewState) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: view\ndata: %s\n\n", v.Version, data)
	return err
}
