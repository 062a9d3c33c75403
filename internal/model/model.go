// Package model defines the core domain types for the campaign admission system.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Campaign is a capacity-bounded resource that users apply to.
type Campaign struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	MaxParticipants *int      `json:"max_participants,omitempty"`
	Active          bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Bounded reports whether the campaign has a capacity limit.
func (c *Campaign) Bounded() bool {
	return c.MaxParticipants != nil
}

// Remaining returns the number of free slots given the current admitted
// count. ok is false for unbounded campaigns.
func (c *Campaign) Remaining(admitted int) (remaining int, ok bool) {
	if c.MaxParticipants == nil {
		return 0, false
	}
	remaining = *c.MaxParticipants - admitted
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Status is the lifecycle state of an application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Statuses lists every application status.
func Statuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusRejected, StatusWithdrawn}
}

// AdmittedStatuses are the statuses that occupy a capacity slot.
// Withdrawn and rejected applications free their slot.
func AdmittedStatuses() []Status {
	return []Status{StatusPending, StatusApproved}
}

// ParseStatus converts s into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusWithdrawn:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown application status %q", s)
	}
}

// CanTransition reports whether an application may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		switch next {
		case StatusApproved, StatusRejected, StatusWithdrawn:
			return true
		case StatusPending:
			return false
		}
	case StatusApproved:
		switch next {
		case StatusRejected, StatusWithdrawn:
			return true
		case StatusPending, StatusApproved:
			return false
		}
	case StatusRejected, StatusWithdrawn:
		return false
	}
	return false
}

// Application is a user's admission record for one campaign.
type Application struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	UserID     string    `json:"user_id"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	AdminNote  string    `json:"admin_note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WorkStatus is the lifecycle state of a queued work item.
type WorkStatus string

const (
	WorkPending    WorkStatus = "pending"
	WorkInProgress WorkStatus = "in_progress"
	WorkDone       WorkStatus = "done"
	WorkFailed     WorkStatus = "failed"
)

// ParseWorkStatus converts s into a WorkStatus.
func ParseWorkStatus(s string) (WorkStatus, error) {
	switch WorkStatus(s) {
	case WorkPending, WorkInProgress, WorkDone, WorkFailed:
		return WorkStatus(s), nil
	default:
		return "", fmt.Errorf("unknown work status %q", s)
	}
}

// WorkItem is a unit of pending work in a named queue.
type WorkItem struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    WorkStatus      `json:"status"`
	ClaimedBy string          `json:"claimed_by,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ClaimedAt *time.Time      `json:"claimed_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CampaignSummary is a reporting view of a campaign. Counts are read without
// locking and may be slightly stale.
type CampaignSummary struct {
	Campaign  Campaign       `json:"campaign"`
	Counts    map[Status]int `json:"counts"`
	Admitted  int            `json:"admitted"`
	Remaining *int           `json:"remaining,omitempty"`
}

// CreateCampaignRequest is the payload for creating a new campaign.
type CreateCampaignRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	MaxParticipants *int   `json:"max_participants"`
	Active          *bool  `json:"is_active"`
}

// UpdateCampaignRequest toggles the active flag of a campaign.
type UpdateCampaignRequest struct {
	Active *bool `json:"is_active"`
}

// ApplyRequest is the payload for applying to a campaign.
type ApplyRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// BatchApproveRequest is the payload for promoting pending applications.
type BatchApproveRequest struct {
	Max int `json:"max"`
}

// TransitionRequest carries an optional note for approve/reject.
type TransitionRequest struct {
	Note string `json:"note"`
}

// EnqueueRequest is the payload for adding a work item.
type EnqueueRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// ClaimRequest identifies the worker claiming the next item.
type ClaimRequest struct {
	WorkerID string `json:"worker_id"`
}

// FailRequest reports a failed work item.
type FailRequest struct {
	Error   string `json:"error"`
	Requeue bool   `json:"requeue"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
