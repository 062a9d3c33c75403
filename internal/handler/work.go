package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/dispatch"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
)

// WorkHandler exposes the work queues over HTTP.
type WorkHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewWorkHandler constructs a WorkHandler.
func NewWorkHandler(d *dispatch.Dispatcher, logger *slog.Logger) *WorkHandler {
	return &WorkHandler{dispatcher: d, logger: logger}
}

// Enqueue handles POST /queues/{queue}/items
func (h *WorkHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req model.EnqueueRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	item, err := h.dispatcher.Enqueue(r.Context(), chi.URLParam(r, "queue"), req.Payload)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ListItems handles GET /queues/{queue}/items
func (h *WorkHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.dispatcher.List(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []model.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Claim handles POST /queues/{queue}/claim
// Responds 204 when nothing is claimable.
func (h *WorkHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req model.ClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	item, err := h.dispatcher.ClaimNext(r.Context(), chi.URLParam(r, "queue"), req.WorkerID)
	if errors.Is(err, dispatch.ErrEmpty) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Complete handles POST /work/{id}/complete
func (h *WorkHandler) Complete(w http.ResponseWriter, r *http.Request) {
	item, err := h.dispatcher.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Fail handles POST /work/{id}/fail
func (h *WorkHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req model.FailRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	item, err := h.dispatcher.Fail(r.Context(), chi.URLParam(r, "id"), req.Error, req.Requeue)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
