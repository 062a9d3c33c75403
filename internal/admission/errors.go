package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

// Business rejections. They are terminal answers and must not be retried.
var (
	ErrCapacityExceeded  = errors.New("campaign is at capacity")
	ErrAlreadyApplied    = errors.New("user has already applied to this campaign")
	ErrCampaignClosed    = errors.New("campaign is not accepting applications")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Transient failures. Callers may retry with backoff.
var (
	ErrBusy     = errors.New("campaign is busy, retry later")
	ErrConflict = errors.New("transaction aborted by a concurrent update, retry later")
)

var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	// ErrStoreUnavailable wraps any store fault outside the taxonomy above.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var domainErrors = []error{
	ErrCapacityExceeded, ErrAlreadyApplied, ErrCampaignClosed, ErrInvalidTransition,
	ErrBusy, ErrConflict, ErrCampaignNotFound, ErrApplicationNotFound,
	ErrInvalidArgument, ErrStoreUnavailable,
}

// translate maps a store error onto the admission taxonomy. notFound is the
// error reported for repository.ErrNotFound, which depends on what was looked
// up. Context errors pass through untouched.
func translate(err, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, repository.ErrUniqueViolation):
		return ErrAlreadyApplied
	case errors.Is(err, repository.ErrLockNotAvailable), errors.Is(err, repository.ErrLockTimeout):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
