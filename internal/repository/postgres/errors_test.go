package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

func TestClassify(t *testing.T) {
	pgErr := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, ConstraintName: "applications_user_campaign_key"})
	}
	ioErr := errors.New("connection reset by peer")

	tests := []struct {
		name string
		err  error
		mode repository.LockMode
		want error
	}{
		{"nil", nil, repository.LockBlock, nil},
		{"no rows", pgx.ErrNoRows, repository.LockBlock, repository.ErrNotFound},
		{"tx closed", pgx.ErrTxClosed, repository.LockBlock, repository.ErrTxDone},
		{"unique violation", pgErr(codeUniqueViolation), repository.LockBlock, repository.ErrUniqueViolation},
		{"foreign key violation", pgErr(codeForeignKeyViolation), repository.LockBlock, repository.ErrNotFound},
		{"lock timeout while blocking", pgErr(codeLockNotAvailable), repository.LockBlock, repository.ErrLockTimeout},
		{"nowait miss", pgErr(codeLockNotAvailable), repository.LockNoWait, repository.ErrLockNotAvailable},
		{"skip locked miss", pgErr(codeLockNotAvailable), repository.LockSkipLocked, repository.ErrLockNotAvailable},
		{"serialization failure", pgErr(codeSerializationFailure), repository.LockBlock, repository.ErrConflict},
		{"deadlock", pgErr(codeDeadlockDetected), repository.LockBlock, repository.ErrConflict},
		{"other sqlstate", pgErr("42P01"), repository.LockBlock, nil},
		{"transport error", ioErr, repository.LockBlock, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(context.Background(), tc.err, tc.mode)
			if tc.err == nil {
				require.NoError(t, got)
				return
			}
			require.Error(t, got)
			if tc.want != nil {
				require.ErrorIs(t, got, tc.want)
				return
			}
			// Unclassified errors pass through untouched.
			assert.Equal(t, tc.err, got)
			for _, sentinel := range []error{
				repository.ErrNotFound, repository.ErrUniqueViolation, repository.ErrLockTimeout,
				repository.ErrLockNotAvailable, repository.ErrConflict,
			} {
				assert.NotErrorIs(t, got, sentinel)
			}
		})
	}
}

func TestClassify_LockTimeoutAndNoWaitStayDistinct(t *testing.T) {
	err := &pgconn.PgError{Code: codeLockNotAvailable}

	blocked := classify(context.Background(), err, repository.LockBlock)
	assert.NotErrorIs(t, blocked, repository.ErrLockNotAvailable)

	nowait := classify(context.Background(), err, repository.LockNoWait)
	assert.NotErrorIs(t, nowait, repository.ErrLockTimeout)
}

func TestClassify_ContextErrorWins(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range []error{
		&pgconn.PgError{Code: codeLockNotAvailable},
		&pgconn.PgError{Code: codeUniqueViolation},
		pgx.ErrNoRows,
		errors.New("conn closed"),
	} {
		got := classify(cancelled, err, repository.LockBlock)
		assert.ErrorIs(t, got, context.Canceled, "%v", err)
		assert.NotErrorIs(t, got, repository.ErrLockTimeout)
	}

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	assert.ErrorIs(t, classify(expired, &pgconn.PgError{Code: codeLockNotAvailable}, repository.LockBlock), context.DeadlineExceeded)
}

func TestLockClauseAndTimeoutValue(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", lockClause(repository.LockBlock))
	assert.Equal(t, " FOR UPDATE NOWAIT", lockClause(repository.LockNoWait))
	assert.Equal(t, " FOR UPDATE SKIP LOCKED", lockClause(repository.LockSkipLocked))

	assert.Equal(t, "100ms", lockTimeoutValue(100*time.Millisecond))
	assert.Equal(t, "2000ms", lockTimeoutValue(2*time.Second))
	assert.Equal(t, "1ms", lockTimeoutValue(300*time.Microsecond), "sub-millisecond waits must not become unbounded")
}
