package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

// SQLSTATE codes the store translates into repository errors.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the repository taxonomy. mode decides
// whether lock_not_available means a NOWAIT miss or an expired lock_timeout.
func classify(ctx context.Context, err error, mode repository.LockMode) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if errors.Is(err, pgx.ErrTxClosed) {
		return repository.ErrTxDone
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", repository.ErrUniqueViolation, pgErr.ConstraintName)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.ConstraintName)
	case codeLockNotAvailable:
		if mode == repository.LockBlock {
			return fmt.Errorf("%w: %w", repository.ErrLockTimeout, err)
		}
		return fmt.Errorf("%w: %w", repository.ErrLockNotAvailable, err)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", repository.ErrConflict, err)
	default:
		return err
	}
}
