package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository/repositorytest"
)

func TestStore_Conformance(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.Store {
		return NewStore()
	})
}

// Two transactions that skip the campaign lock can both pass the insert-time
// check; the constraint must still reject the second at commit.
func TestStore_UniqueCheckedAgainAtCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := repositorytest.NewCampaign(t, s, nil)

	first, err := s.Begin(ctx)
	require.NoError(t, err)
	second, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, first.InsertApplication(ctx, &model.Application{ID: "a1", CampaignID: c.ID, UserID: "racer", Status: model.StatusPending}))
	require.NoError(t, second.InsertApplication(ctx, &model.Application{ID: "a2", CampaignID: c.ID, UserID: "racer", Status: model.StatusPending}))

	require.NoError(t, first.Commit(ctx))
	require.ErrorIs(t, second.Commit(ctx), repository.ErrUniqueViolation)

	apps, err := s.ListApplications(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, "a1", apps[0].ID)
}

func TestStore_FinishedTxRejectsUse(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := repositorytest.NewCampaign(t, s, nil)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{})
	require.ErrorIs(t, err, repository.ErrTxDone)
	require.ErrorIs(t, tx.Commit(ctx), repository.ErrTxDone)
	require.NoError(t, tx.Rollback(ctx))
}

func TestStore_CancelledCommitReleasesLocks(t *testing.T) {
	s := NewStore()
	c := repositorytest.NewCampaign(t, s, repositorytest.Limit(1))

	ctx, cancel := context.WithCancel(context.Background())
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{Mode: repository.LockBlock})
	require.NoError(t, err)
	require.NoError(t, tx.InsertApplication(ctx, &model.Application{ID: "x", CampaignID: c.ID, UserID: "u", Status: model.StatusPending}))

	cancel()
	require.ErrorIs(t, tx.Commit(ctx), context.Canceled)

	other, err := s.Begin(context.Background())
	require.NoError(t, err)
	_, err = other.LockCampaign(context.Background(), c.ID, repository.LockOptions{Mode: repository.LockNoWait})
	require.NoError(t, err, "lock must be released after an aborted commit")
	n, err := other.CountApplications(context.Background(), c.ID)
	require.NoError(t, err)
	require.Zero(t, n, "nothing from the aborted transaction may be visible")
	require.NoError(t, other.Rollback(context.Background()))
}

func TestStore_DeleteWaitsForLockHolder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := repositorytest.NewCampaign(t, s, nil)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{})
	require.NoError(t, err)

	deleted := make(chan error, 1)
	go func() { deleted <- s.DeleteCampaign(ctx, c.ID) }()

	select {
	case err := <-deleted:
		t.Fatalf("delete finished while the row was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, <-deleted)
}

func TestLockTable_DropsIdleRows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i := range 200 {
		require.NoError(t, s.EnqueueWork(ctx, &model.WorkItem{ID: fmt.Sprintf("w%d", i), Queue: "q"}))
	}
	for range 200 {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		item, err := tx.ClaimWork(ctx, "q", "worker")
		require.NoError(t, err)
		item.Status = model.WorkDone
		require.NoError(t, tx.UpdateWorkItem(ctx, item))
		require.NoError(t, tx.Commit(ctx))
	}
	require.Zero(t, s.locks.size())

	// Failed no-wait and timed-out attempts leave nothing behind either.
	release, err := s.locks.acquire(ctx, "k", repository.LockOptions{Mode: repository.LockBlock})
	require.NoError(t, err)
	_, err = s.locks.acquire(ctx, "k", repository.LockOptions{Mode: repository.LockNoWait})
	require.ErrorIs(t, err, repository.ErrLockNotAvailable)
	_, err = s.locks.acquire(ctx, "k", repository.LockOptions{Mode: repository.LockBlock, Timeout: 10 * time.Millisecond})
	require.ErrorIs(t, err, repository.ErrLockTimeout)
	require.Equal(t, 1, s.locks.size())
	release()
	require.Zero(t, s.locks.size())
}

func TestLockTable_WaiterKeepsRowExclusive(t *testing.T) {
	ctx := context.Background()
	l := newLockTable()

	release, err := l.acquire(ctx, "k", repository.LockOptions{Mode: repository.LockBlock})
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		next, err := l.acquire(ctx, "k", repository.LockOptions{Mode: repository.LockBlock})
		if err == nil {
			acquired <- next
		}
	}()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.rows["k"] != nil && l.rows["k"].refs == 2
	}, time.Second, time.Millisecond)

	release()
	var next func()
	select {
	case next = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}

	// The waiter now holds the row; a newcomer must not get a fresh lock.
	_, err = l.acquire(ctx, "k", repository.LockOptions{Mode: repository.LockNoWait})
	require.ErrorIs(t, err, repository.ErrLockNotAvailable)
	next()
	require.Zero(t, l.size())
}
