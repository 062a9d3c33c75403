// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/admission"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/dispatch"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/service"
)

// retryAfterSeconds is advertised on 503 responses for transient failures.
const retryAfterSeconds = "1"

// CampaignHandler holds the HTTP handlers for campaigns and applications.
type CampaignHandler struct {
	svc    *service.CampaignService
	logger *slog.Logger
}

// NewCampaignHandler constructs a CampaignHandler.
func NewCampaignHandler(svc *service.CampaignService, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{svc: svc, logger: logger}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, admission.ErrInvalidArgument),
		errors.Is(err, dispatch.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, admission.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, admission.ErrApplicationNotFound):
		writeError(w, http.StatusNotFound, "application not found")
	case errors.Is(err, dispatch.ErrWorkNotFound):
		writeError(w, http.StatusNotFound, "work item not found")

	case errors.Is(err, admission.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "campaign is full")
	case errors.Is(err, admission.ErrAlreadyApplied):
		writeError(w, http.StatusConflict, "you have already applied to this campaign")
	case errors.Is(err, admission.ErrCampaignClosed):
		writeError(w, http.StatusConflict, "campaign is not accepting applications")
	case errors.Is(err, admission.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrNotClaimed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, admission.ErrConflict):
		writeError(w, http.StatusConflict, "request conflicted with a concurrent update, please retry")

	case errors.Is(err, admission.ErrBusy), errors.Is(err, dispatch.ErrBusy):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "resource is busy, please retry")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "request timed out")

	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Campaigns ────────────────────────────────────────────────────────────────

// CreateCampaign handles POST /campaigns
func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	c, err := h.svc.CreateCampaign(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCampaigns handles GET /campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.svc.ListCampaigns(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if campaigns == nil {
		campaigns = []model.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

// GetCampaign handles GET /campaigns/{id}
// Returns the campaign with per-status counts; counts may be briefly stale.
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// UpdateCampaign handles PATCH /campaigns/{id}
func (h *CampaignHandler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateCampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c, err := h.svc.SetActive(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCampaign handles DELETE /campaigns/{id}
func (h *CampaignHandler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Applications ─────────────────────────────────────────────────────────────

// Apply handles POST /campaigns/{id}/applications
// ?wait=false fails fast with 503 instead of queuing behind other decisions.
func (h *CampaignHandler) Apply(w http.ResponseWriter, r *http.Request) {
	wait := true
	if raw := r.URL.Query().Get("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "wait must be true or false")
			return
		}
		wait = parsed
	}

	var req model.ApplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	app, err := h.svc.Apply(r.Context(), chi.URLParam(r, "id"), req, wait)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// ListApplications handles GET /campaigns/{id}/applications
func (h *CampaignHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.svc.ListApplications(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if apps == nil {
		apps = []model.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// BatchApprove handles POST /campaigns/{id}/approvals
func (h *CampaignHandler) BatchApprove(w http.ResponseWriter, r *http.Request) {
	var req model.BatchApproveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.svc.BatchApprove(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Approve handles POST /applications/{id}/approve
func (h *CampaignHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req model.TransitionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.writeTransition(w, func(ctx context.Context, id string) (*model.Application, error) {
		return h.svc.Approve(ctx, id, req)
	}, r)
}

// Reject handles POST /applications/{id}/reject
func (h *CampaignHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req model.TransitionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.writeTransition(w, func(ctx context.Context, id string) (*model.Application, error) {
		return h.svc.Reject(ctx, id, req)
	}, r)
}

// Withdraw handles POST /applications/{id}/withdraw
func (h *CampaignHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.writeTransition(w, h.svc.Withdraw, r)
}

func (h *CampaignHandler) writeTransition(w http.ResponseWriter, fn func(context.Context, string) (*model.Application, error), r *http.Request) {
	app, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
