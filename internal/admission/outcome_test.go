package admission

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

func TestTranslate(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", fmt.Errorf("lookup: %w", repository.ErrNotFound), ErrCampaignNotFound},
		{"unique", repository.ErrUniqueViolation, ErrAlreadyApplied},
		{"nowait", repository.ErrLockNotAvailable, ErrBusy},
		{"timeout", repository.ErrLockTimeout, ErrBusy},
		{"conflict", repository.ErrConflict, ErrConflict},
		{"cancelled", context.Canceled, context.Canceled},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), context.DeadlineExceeded},
		{"domain passes through", ErrCampaignClosed, ErrCampaignClosed},
		{"anything else", boom, ErrStoreUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, translate(tc.in, ErrCampaignNotFound), tc.want)
		})
	}
	assert.NoError(t, translate(nil, ErrCampaignNotFound))
	assert.ErrorIs(t, translate(boom, ErrCampaignNotFound), boom, "store faults keep their cause")
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err       error
		want      Outcome
		rejected  bool
		retryable bool
	}{
		{nil, OutcomeAdmitted, false, false},
		{ErrCapacityExceeded, OutcomeFull, true, false},
		{ErrAlreadyApplied, OutcomeAlreadyApplied, true, false},
		{fmt.Errorf("%w: held", ErrBusy), OutcomeBusy, false, true},
		{ErrConflict, OutcomeConflict, false, true},
		{ErrCampaignClosed, OutcomeClosed, true, false},
		{ErrInvalidTransition, OutcomeInvalidTransition, true, false},
		{ErrApplicationNotFound, OutcomeNotFound, false, false},
		{ErrInvalidArgument, OutcomeInvalidArgument, false, false},
		{context.Canceled, OutcomeCancelled, false, false},
		{errors.New("disk on fire"), OutcomeStoreFault, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.want.String(), func(t *testing.T) {
			got := OutcomeOf(tc.err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.rejected, got.Rejected())
			assert.Equal(t, tc.retryable, got.Retryable())
		})
	}
	assert.Equal(t, "unknown", Outcome(99).String())
}
