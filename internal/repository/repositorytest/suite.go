// Package repositorytest holds the conformance suite every repository.Store
// implementation must pass.
package repositorytest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

// Factory returns a ready store. Stores may be shared between subtests;
// every subtest works on freshly created rows.
type Factory func(t *testing.T) repository.Store

// Run executes the suite against the store returned by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s repository.Store)
	}{
		{"CampaignCRUD", testCampaignCRUD},
		{"NoWaitFailsWhileLocked", testNoWaitFailsWhileLocked},
		{"SkipLockedCampaign", testSkipLockedCampaign},
		{"BlockingLockTimesOut", testBlockingLockTimesOut},
		{"BlockingLockHonoursCancellation", testBlockingLockHonoursCancellation},
		{"BlockedWaiterSeesCommittedCount", testBlockedWaiterSeesCommittedCount},
		{"UniqueConstraint", testUniqueConstraint},
		{"RollbackDiscardsWrites", testRollbackDiscardsWrites},
		{"StatusUpdatesAndCounts", testStatusUpdatesAndCounts},
		{"ApplicationsByStatusOrder", testApplicationsByStatusOrder},
		{"ClaimWorkSkipsLockedRows", testClaimWorkSkipsLockedRows},
		{"DeleteCascades", testDeleteCascades},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// NewCampaign inserts a campaign with the given limit (nil for unbounded).
func NewCampaign(t *testing.T, s repository.Store, limit *int) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		ID:              uuid.NewString(),
		Title:           "campaign " + uuid.NewString()[:8],
		Description:     "test campaign",
		MaxParticipants: limit,
		Active:          true,
	}
	require.NoError(t, s.CreateCampaign(context.Background(), c))
	return c
}

// Limit is a convenience for building *int capacities.
func Limit(n int) *int { return &n }

// InsertApplication writes one committed application with the given status.
func InsertApplication(t *testing.T, s repository.Store, campaignID, userID string, status model.Status) *model.Application {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	app := &model.Application{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		UserID:     userID,
		Status:     status,
	}
	require.NoError(t, tx.InsertApplication(ctx, app))
	require.NoError(t, tx.Commit(ctx))
	return app
}

func lockOrFail(t *testing.T, s repository.Store, campaignID string) repository.Tx {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.LockCampaign(ctx, campaignID, repository.LockOptions{Mode: repository.LockBlock, Timeout: time.Second})
	require.NoError(t, err)
	return tx
}

func testCampaignCRUD(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, Limit(3))

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.Title, got.Title)
	require.NotNil(t, got.MaxParticipants)
	require.Equal(t, 3, *got.MaxParticipants)
	require.True(t, got.Active)

	updated, err := s.SetCampaignActive(ctx, c.ID, false)
	require.NoError(t, err)
	require.False(t, updated.Active)

	list, err := s.ListCampaigns(ctx)
	require.NoError(t, err)
	found := false
	for _, item := range list {
		if item.ID == c.ID {
			found = true
		}
	}
	require.True(t, found, "created campaign should be listed")

	_, err = s.GetCampaign(ctx, uuid.NewString())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testNoWaitFailsWhileLocked(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, Limit(1))
	holder := lockOrFail(t, s, c.ID)
	defer func() { _ = holder.Rollback(ctx) }()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	start := time.Now()
	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{Mode: repository.LockNoWait})
	require.ErrorIs(t, err, repository.ErrLockNotAvailable)
	require.Less(t, time.Since(start), 500*time.Millisecond, "NOWAIT must not queue")
}

func testSkipLockedCampaign(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, nil)
	holder := lockOrFail(t, s, c.ID)
	defer func() { _ = holder.Rollback(ctx) }()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{Mode: repository.LockSkipLocked})
	require.ErrorIs(t, err, repository.ErrLockNotAvailable)
}

func testBlockingLockTimesOut(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, Limit(1))
	holder := lockOrFail(t, s, c.ID)
	defer func() { _ = holder.Rollback(ctx) }()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{Mode: repository.LockBlock, Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, repository.ErrLockTimeout)
}

func testBlockingLockHonoursCancellation(t *testing.T, s repository.Store) {
	c := NewCampaign(t, s, Limit(1))
	holder := lockOrFail(t, s, c.ID)
	defer func() { _ = holder.Rollback(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{Mode: repository.LockBlock})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled),
		"expected context error, got %v", err)
	require.NoError(t, tx.Rollback(context.Background()))

	// The aborted waiter must not have left anything behind.
	require.NoError(t, holder.Rollback(context.Background()))
	again := lockOrFail(t, s, c.ID)
	require.NoError(t, again.Rollback(context.Background()))
}

func testBlockedWaiterSeesCommittedCount(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, Limit(5))

	holder := lockOrFail(t, s, c.ID)
	require.NoError(t, holder.InsertApplication(ctx, &model.Application{
		ID: uuid.NewString(), CampaignID: c.ID, UserID: "first", Status: model.StatusPending,
	}))

	counted := make(chan int, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tx, err := s.Begin(ctx)
		if !assert.NoError(t, err) {
			counted <- -1
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if _, err := tx.LockCampaign(ctx, c.ID, repository.LockOptions{Mode: repository.LockBlock, Timeout: 5 * time.Second}); !assert.NoError(t, err) {
			counted <- -1
			return
		}
		n, err := tx.CountApplications(ctx, c.ID)
		assert.NoError(t, err)
		counted <- n
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, holder.Commit(ctx))
	wg.Wait()
	require.Equal(t, 1, <-counted, "waiter must re-read the count after the holder commits")
}

func testUniqueConstraint(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, nil)
	InsertApplication(t, s, c.ID, "dup-user", model.StatusWithdrawn)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	exists, err := tx.ApplicationExists(ctx, c.ID, "dup-user")
	require.NoError(t, err)
	require.True(t, exists, "existence check covers every status")

	err = tx.InsertApplication(ctx, &model.Application{
		ID: uuid.NewString(), CampaignID: c.ID, UserID: "dup-user", Status: model.StatusPending,
	})
	require.ErrorIs(t, err, repository.ErrUniqueViolation)
}

func testRollbackDiscardsWrites(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, nil)

	tx := lockOrFail(t, s, c.ID)
	require.NoError(t, tx.InsertApplication(ctx, &model.Application{
		ID: uuid.NewString(), CampaignID: c.ID, UserID: "ghost", Status: model.StatusPending,
	}))
	n, err := tx.CountApplications(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n, "transaction sees its own insert")
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback is idempotent")

	counts, err := s.CountByStatus(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 0, counts[model.StatusPending])
}

func testStatusUpdatesAndCounts(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, nil)
	a := InsertApplication(t, s, c.ID, "u1", model.StatusPending)
	InsertApplication(t, s, c.ID, "u2", model.StatusPending)
	InsertApplication(t, s, c.ID, "u3", model.StatusRejected)

	tx := lockOrFail(t, s, c.ID)
	require.NoError(t, tx.UpdateApplicationStatus(ctx, a.ID, model.StatusApproved, "welcome"))
	approved, err := tx.CountApplications(ctx, c.ID, model.StatusApproved)
	require.NoError(t, err)
	require.Equal(t, 1, approved)
	admitted, err := tx.CountApplications(ctx, c.ID, model.AdmittedStatuses()...)
	require.NoError(t, err)
	require.Equal(t, 2, admitted)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetApplication(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, got.Status)
	require.Equal(t, "welcome", got.AdminNote)

	counts, err := s.CountByStatus(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.StatusPending])
	require.Equal(t, 1, counts[model.StatusApproved])
	require.Equal(t, 1, counts[model.StatusRejected])
	require.Equal(t, 0, counts[model.StatusWithdrawn])
}

func testApplicationsByStatusOrder(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, nil)
	var want []string
	for _, user := range []string{"a", "b", "c", "d"} {
		want = append(want, InsertApplication(t, s, c.ID, user, model.StatusPending).ID)
	}

	tx := lockOrFail(t, s, c.ID)
	defer func() { _ = tx.Rollback(ctx) }()
	apps, err := tx.ApplicationsByStatus(ctx, c.ID, model.StatusPending, 3)
	require.NoError(t, err)
	require.Len(t, apps, 3)
	for i, app := range apps {
		require.Equal(t, want[i], app.ID, "applications come back in creation order")
	}
}

func testClaimWorkSkipsLockedRows(t *testing.T, s repository.Store) {
	ctx := context.Background()
	queue := "q-" + uuid.NewString()
	for i := 0; i < 2; i++ {
		require.NoError(t, s.EnqueueWork(ctx, &model.WorkItem{ID: uuid.NewString(), Queue: queue, Payload: []byte(`{"n":1}`)}))
	}

	first, err := s.Begin(ctx)
	require.NoError(t, err)
	a, err := first.ClaimWork(ctx, queue, "w1")
	require.NoError(t, err)

	second, err := s.Begin(ctx)
	require.NoError(t, err)
	start := time.Now()
	b, err := second.ClaimWork(ctx, queue, "w2")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond, "claims must not wait on each other")
	require.NotEqual(t, a.ID, b.ID)

	third, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = third.ClaimWork(ctx, queue, "w3")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, third.Rollback(ctx))

	require.NoError(t, first.Commit(ctx))
	require.NoError(t, second.Commit(ctx))

	items, err := s.ListWork(ctx, queue)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		require.Equal(t, model.WorkInProgress, item.Status)
		require.Equal(t, 1, item.Attempts)
		require.NotEmpty(t, item.ClaimedBy)
	}
}

func testDeleteCascades(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c := NewCampaign(t, s, nil)
	app := InsertApplication(t, s, c.ID, "cascade", model.StatusPending)

	require.NoError(t, s.DeleteCampaign(ctx, c.ID))
	_, err := s.GetCampaign(ctx, c.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.GetApplication(ctx, app.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.ErrorIs(t, s.DeleteCampaign(ctx, c.ID), repository.ErrNotFound)
}
