// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the admission controller and store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/admission"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

// ErrValidation marks a request the caller must fix before retrying.
var ErrValidation = errors.New("validation failed")

const (
	maxCapacity      = 100_000
	maxTitleLength   = 200
	maxMessageLength = 2000
	maxBatchSize     = 1000
)

// CampaignService orchestrates campaign and application operations.
type CampaignService struct {
	store     repository.Store
	admission *admission.Controller
	summaries *cache.Cache
	logger    *slog.Logger
}

// NewCampaignService constructs a CampaignService. Summaries are cached for
// summaryTTL; zero disables the cache.
func NewCampaignService(store repository.Store, ctrl *admission.Controller, summaryTTL time.Duration, logger *slog.Logger) *CampaignService {
	s := &CampaignService{store: store, admission: ctrl, logger: logger}
	if summaryTTL > 0 {
		s.summaries = cache.New(summaryTTL, 2*summaryTTL)
	}
	return s
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CreateCampaign validates the request and stores a new campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, req model.CreateCampaignRequest) (*model.Campaign, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if req.Title == "" {
		return nil, validationError("title is required")
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLength {
		return nil, validationError("title cannot exceed %d characters", maxTitleLength)
	}
	if req.MaxParticipants != nil {
		if *req.MaxParticipants <= 0 {
			return nil, validationError("max_participants must be a positive integer")
		}
		if *req.MaxParticipants > maxCapacity {
			return nil, validationError("max_participants cannot exceed 100,000")
		}
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	c := &model.Campaign{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Description:     req.Description,
		MaxParticipants: req.MaxParticipants,
		Active:          active,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.logger.Info("campaign created", "campaign_id", c.ID, "bounded", c.Bounded(), "active", c.Active)
	return c, nil
}

// ListCampaigns returns all campaigns.
func (s *CampaignService) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}

// Summary returns the campaign with per-status counts. Counts are read
// without locking and may be up to the cache TTL old.
func (s *CampaignService) Summary(ctx context.Context, id string) (*model.CampaignSummary, error) {
	if id == "" {
		return nil, validationError("campaign id is required")
	}
	if s.summaries != nil {
		if cached, ok := s.summaries.Get(id); ok {
			return cached.(*model.CampaignSummary), nil
		}
	}

	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, campaignErr(err)
	}
	counts, err := s.store.CountByStatus(ctx, id)
	if err != nil {
		return nil, campaignErr(err)
	}

	summary := &model.CampaignSummary{Campaign: *c, Counts: counts}
	for _, st := range model.AdmittedStatuses() {
		summary.Admitted += counts[st]
	}
	if remaining, ok := c.Remaining(summary.Admitted); ok {
		summary.Remaining = &remaining
	}
	if s.summaries != nil {
		s.summaries.SetDefault(id, summary)
	}
	return summary, nil
}

// SetActive opens or closes a campaign for new applications.
func (s *CampaignService) SetActive(ctx context.Context, id string, req model.UpdateCampaignRequest) (*model.Campaign, error) {
	if req.Active == nil {
		return nil, validationError("is_active is required")
	}
	c, err := s.store.SetCampaignActive(ctx, id, *req.Active)
	if err != nil {
		return nil, campaignErr(err)
	}
	s.invalidate(id)
	s.logger.Info("campaign updated", "campaign_id", id, "active", c.Active)
	return c, nil
}

// DeleteCampaign removes a campaign and all of its applications.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id string) error {
	if err := s.store.DeleteCampaign(ctx, id); err != nil {
		return campaignErr(err)
	}
	s.invalidate(id)
	s.logger.Info("campaign deleted", "campaign_id", id)
	return nil
}

// ListApplications returns all applications for a campaign.
func (s *CampaignService) ListApplications(ctx context.Context, campaignID string) ([]model.Application, error) {
	apps, err := s.store.ListApplications(ctx, campaignID)
	if err != nil {
		return nil, campaignErr(err)
	}
	return apps, nil
}

// Apply validates the request and hands the decision to the admission
// controller. With wait false the call fails fast when the campaign is busy.
func (s *CampaignService) Apply(ctx context.Context, campaignID string, req model.ApplyRequest, wait bool) (*model.Application, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" {
		return nil, validationError("user_id is required")
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLength {
		return nil, validationError("message cannot exceed %d characters", maxMessageLength)
	}

	var (
		app *model.Application
		err error
	)
	if wait {
		app, err = s.admission.Apply(ctx, campaignID, req.UserID, req.Message)
	} else {
		app, err = s.admission.ApplyNoWait(ctx, campaignID, req.UserID, req.Message)
	}
	if err != nil {
		return nil, err
	}
	s.invalidate(campaignID)
	return app, nil
}

// BatchApprove promotes pending applications up to req.Max.
func (s *CampaignService) BatchApprove(ctx context.Context, campaignID string, req model.BatchApproveRequest) (admission.BatchResult, error) {
	if req.Max <= 0 || req.Max > maxBatchSize {
		return admission.BatchResult{}, validationError("max must be between 1 and %d", maxBatchSize)
	}
	res, err := s.admission.BatchApprove(ctx, campaignID, req.Max)
	if err != nil {
		return admission.BatchResult{}, err
	}
	s.invalidate(campaignID)
	return res, nil
}

// Approve, Reject and Withdraw move a single application through its
// lifecycle.
func (s *CampaignService) Approve(ctx context.Context, applicationID string, req model.TransitionRequest) (*model.Application, error) {
	return s.transitioned(s.admission.Approve(ctx, applicationID, strings.TrimSpace(req.Note)))
}

func (s *CampaignService) Reject(ctx context.Context, applicationID string, req model.TransitionRequest) (*model.Application, error) {
	return s.transitioned(s.admission.Reject(ctx, applicationID, strings.TrimSpace(req.Note)))
}

func (s *CampaignService) Withdraw(ctx context.Context, applicationID string) (*model.Application, error) {
	return s.transitioned(s.admission.Withdraw(ctx, applicationID))
}

func (s *CampaignService) transitioned(app *model.Application, err error) (*model.Application, error) {
	if err != nil {
		return nil, err
	}
	s.invalidate(app.CampaignID)
	return app, nil
}

func (s *CampaignService) invalidate(campaignID string) {
	if s.summaries != nil {
		s.summaries.Delete(campaignID)
	}
}

// campaignErr maps a store lookup failure onto the admission taxonomy so
// handlers deal with a single set of sentinels.
func campaignErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return admission.ErrCampaignNotFound
	}
	return fmt.Errorf("%w: %w", admission.ErrStoreUnavailable, err)
}
