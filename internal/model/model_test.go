package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:   {StatusApproved, StatusRejected, StatusWithdrawn},
		StatusApproved:  {StatusRejected, StatusWithdrawn},
		StatusRejected:  nil,
		StatusWithdrawn: nil,
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, Status("bogus").CanTransition(StatusApproved))
}

func TestParseStatus(t *testing.T) {
	for _, st := range Statuses() {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		require.Equal(t, st, got)
	}
	_, err := ParseStatus("cancelled")
	require.Error(t, err)
}

func TestParseWorkStatus(t *testing.T) {
	got, err := ParseWorkStatus("in_progress")
	require.NoError(t, err)
	require.Equal(t, WorkInProgress, got)

	_, err = ParseWorkStatus("queued")
	require.Error(t, err)
}

func TestCampaign_Remaining(t *testing.T) {
	limit := 3
	c := &Campaign{MaxParticipants: &limit}
	require.True(t, c.Bounded())

	n, ok := c.Remaining(1)
	require.True(t, ok)
	require.Equal(t, 2, n)

	n, ok = c.Remaining(5)
	require.True(t, ok)
	require.Zero(t, n)

	unbounded := &Campaign{}
	require.False(t, unbounded.Bounded())
	_, ok = unbounded.Remaining(1_000_000)
	require.False(t, ok)
}

func TestAdmittedStatuses(t *testing.T) {
	require.ElementsMatch(t, []Status{StatusPending, StatusApproved}, AdmittedStatuses())
}
