// Package repository defines the transactional store consumed by the
// admission controller and the work dispatcher. Implementations live in the
// postgres and memory subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrUniqueViolation is returned when an insert would break the
// one-application-per-(user, campaign) constraint.
var ErrUniqueViolation = errors.New("unique constraint violated")

// ErrLockNotAvailable is returned by no-wait and skip-locked acquisitions
// when the row is held by another transaction.
var ErrLockNotAvailable = errors.New("row lock not available")

// ErrLockTimeout is returned when a blocking lock wait exceeds its timeout.
var ErrLockTimeout = errors.New("lock wait timed out")

// ErrConflict is returned when the store aborted the transaction because of
// a serialization failure or deadlock.
var ErrConflict = errors.New("transaction conflict")

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// LockMode selects how a row lock is acquired.
type LockMode int

const (
	// LockBlock waits for the lock, bounded by LockOptions.Timeout.
	LockBlock LockMode = iota
	// LockNoWait fails immediately with ErrLockNotAvailable.
	LockNoWait
	// LockSkipLocked treats a locked row as unavailable instead of waiting.
	LockSkipLocked
)

func (m LockMode) String() string {
	switch m {
	case LockBlock:
		return "block"
	case LockNoWait:
		return "nowait"
	case LockSkipLocked:
		return "skip_locked"
	default:
		return "unknown"
	}
}

// LockOptions configures a row lock acquisition. A zero Timeout means the
// wait is bounded only by the context.
type LockOptions struct {
	Mode    LockMode
	Timeout time.Duration
}

// Store is the transactional store. Methods outside Tx run without row locks
// and may observe slightly stale data.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	SetCampaignActive(ctx context.Context, id string, active bool) (*model.Campaign, error)
	// DeleteCampaign removes the campaign and every application it owns.
	DeleteCampaign(ctx context.Context, id string) error

	GetApplication(ctx context.Context, id string) (*model.Application, error)
	ListApplications(ctx context.Context, campaignID string) ([]model.Application, error)
	CountByStatus(ctx context.Context, campaignID string) (map[model.Status]int, error)

	EnqueueWork(ctx context.Context, item *model.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error)
	ListWork(ctx context.Context, queue string) ([]model.WorkItem, error)

	Close()
}

// Tx is a unit of work. Locks acquired through a Tx are held until Commit or
// Rollback. Rollback after Commit is a no-op so it can always be deferred.
type Tx interface {
	// LockCampaign takes an exclusive lock on the campaign row and returns
	// its current state.
	LockCampaign(ctx context.Context, id string, opts LockOptions) (*model.Campaign, error)
	// CountApplications is an authoritative count of the campaign's
	// applications in the given statuses (all statuses when none are given).
	CountApplications(ctx context.Context, campaignID string, statuses ...model.Status) (int, error)
	ApplicationExists(ctx context.Context, campaignID, userID string) (bool, error)
	GetApplication(ctx context.Context, id string) (*model.Application, error)
	// ApplicationsByStatus returns up to limit applications in creation order.
	ApplicationsByStatus(ctx context.Context, campaignID string, status model.Status, limit int) ([]model.Application, error)
	InsertApplication(ctx context.Context, app *model.Application) error
	UpdateApplicationStatus(ctx context.Context, id string, status model.Status, note string) error

	// ClaimWork selects the oldest pending item in queue, skipping rows
	// locked by other transactions, and marks it in progress for workerID.
	// It returns ErrNotFound when nothing is claimable.
	ClaimWork(ctx context.Context, queue, workerID string) (*model.WorkItem, error)
	LockWorkItem(ctx context.Context, id string, opts LockOptions) (*model.WorkItem, error)
	UpdateWorkItem(ctx context.Context, item *model.WorkItem) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
