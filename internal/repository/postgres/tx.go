package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

var _ repository.Tx = (*tx)(nil)

// rollbackTimeout bounds the ROLLBACK sent after the caller's context is
// already gone.
const rollbackTimeout = 5 * time.Second

type tx struct {
	tx pgx.Tx
}

func lockClause(mode repository.LockMode) string {
	switch mode {
	case repository.LockNoWait:
		return " FOR UPDATE NOWAIT"
	case repository.LockSkipLocked:
		return " FOR UPDATE SKIP LOCKED"
	default:
		return " FOR UPDATE"
	}
}

// lockTimeoutValue renders d as a lock_timeout setting, rounding sub-
// millisecond waits up so they never mean "wait forever".
func lockTimeoutValue(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%dms", ms)
}

// setLockTimeout bounds blocking waits for the rest of the transaction and
// returns the value it replaced.
func (t *tx) setLockTimeout(ctx context.Context, value string) (string, error) {
	var prev string
	if err := t.tx.QueryRow(ctx, `SELECT current_setting('lock_timeout')`).Scan(&prev); err != nil {
		return "", err
	}
	if _, err := t.tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, value); err != nil {
		return "", err
	}
	return prev, nil
}

// lockRow runs a SELECT ... FOR UPDATE against table for id and scans the
// result with scan. Under SKIP LOCKED an empty result is ambiguous, so the
// row's existence is checked to tell a locked row from a missing one.
func (t *tx) lockRow(ctx context.Context, table, columns, id string, opts repository.LockOptions, scan func(pgx.Row) error) error {
	bounded := opts.Mode == repository.LockBlock && opts.Timeout > 0
	var prevTimeout string
	if bounded {
		prev, err := t.setLockTimeout(ctx, lockTimeoutValue(opts.Timeout))
		if err != nil {
			return classify(ctx, err, opts.Mode)
		}
		prevTimeout = prev
	}

	err := scan(t.tx.QueryRow(ctx,
		`SELECT `+columns+` FROM `+table+` WHERE id = $1`+lockClause(opts.Mode), id))
	if errors.Is(err, pgx.ErrNoRows) && opts.Mode == repository.LockSkipLocked {
		var exists bool
		if existsErr := t.tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); existsErr != nil {
			return classify(ctx, existsErr, opts.Mode)
		}
		if exists {
			return repository.ErrLockNotAvailable
		}
	}
	if err != nil {
		return classify(ctx, err, opts.Mode)
	}

	if bounded {
		if _, err := t.setLockTimeout(ctx, prevTimeout); err != nil {
			return classify(ctx, err, opts.Mode)
		}
	}
	return nil
}

// LockCampaign acquires the exclusive row lock on the campaign. The returned
// row is read under the lock.
func (t *tx) LockCampaign(ctx context.Context, id string, opts repository.LockOptions) (*model.Campaign, error) {
	var c *model.Campaign
	err := t.lockRow(ctx, "campaigns", campaignColumns, id, opts, func(row pgx.Row) error {
		var scanErr error
		c, scanErr = scanCampaign(row)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (t *tx) CountApplications(ctx context.Context, campaignID string, statuses ...model.Status) (int, error) {
	var filter []string
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM applications
		 WHERE campaign_id = $1
		   AND ($2::text[] IS NULL OR status = ANY($2::text[]))`,
		campaignID, filter,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count applications: %w", classify(ctx, err, repository.LockBlock))
	}
	return n, nil
}

func (t *tx) ApplicationExists(ctx context.Context, campaignID, userID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE campaign_id = $1 AND user_id = $2)`,
		campaignID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", classify(ctx, err, repository.LockBlock))
	}
	return exists, nil
}

func (t *tx) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	app, err := scanApplication(t.tx.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return nil, classify(ctx, err, repository.LockBlock)
	}
	return app, nil
}

func (t *tx) ApplicationsByStatus(ctx context.Context, campaignID string, status model.Status, limit int) ([]model.Application, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+applicationColumns+`
		 FROM applications
		 WHERE campaign_id = $1 AND status = $2
		 ORDER BY seq ASC
		 LIMIT NULLIF($3::int, 0)`,
		campaignID, string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", classify(ctx, err, repository.LockBlock))
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

func (t *tx) InsertApplication(ctx context.Context, app *model.Application) error {
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	app.UpdatedAt = app.CreatedAt
	_, err := t.tx.Exec(ctx,
		`INSERT INTO applications (id, campaign_id, user_id, status, message, admin_note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		app.ID, app.CampaignID, app.UserID, string(app.Status), app.Message, app.AdminNote, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", classify(ctx, err, repository.LockBlock))
	}
	return nil
}

func (t *tx) UpdateApplicationStatus(ctx context.Context, id string, status model.Status, note string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE applications
		 SET status = $2,
		     admin_note = COALESCE(NULLIF($3, ''), admin_note),
		     updated_at = now()
		 WHERE id = $1`,
		id, string(status), note,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", classify(ctx, err, repository.LockBlock))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClaimWork is the SKIP LOCKED queue pattern: the subquery only considers
// rows no other transaction holds, so concurrent workers never wait on each
// other and never see the same row.
func (t *tx) ClaimWork(ctx context.Context, queue, workerID string) (*model.WorkItem, error) {
	item, err := scanWorkItem(t.tx.QueryRow(ctx,
		`UPDATE work_items
		 SET status = 'in_progress',
		     claimed_by = $2,
		     claimed_at = now(),
		     attempts = attempts + 1,
		     updated_at = now()
		 WHERE id = (
		     SELECT id FROM work_items
		     WHERE queue = $1 AND status = 'pending'
		     ORDER BY seq
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+workColumns,
		queue, workerID,
	))
	if err != nil {
		return nil, classify(ctx, err, repository.LockSkipLocked)
	}
	return item, nil
}

func (t *tx) LockWorkItem(ctx context.Context, id string, opts repository.LockOptions) (*model.WorkItem, error) {
	var item *model.WorkItem
	err := t.lockRow(ctx, "work_items", workColumns, id, opts, func(row pgx.Row) error {
		var scanErr error
		item, scanErr = scanWorkItem(row)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (t *tx) UpdateWorkItem(ctx context.Context, item *model.WorkItem) error {
	item.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx,
		`UPDATE work_items
		 SET status = $2, claimed_by = $3, attempts = $4, last_error = $5, claimed_at = $6, updated_at = $7
		 WHERE id = $1`,
		item.ID, string(item.Status), item.ClaimedBy, item.Attempts, item.LastError, item.ClaimedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update work item: %w", classify(ctx, err, repository.LockBlock))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Commit releases every lock held by the transaction. A deferred uniqueness
// check or serialization failure surfaces here.
func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(ctx, err, repository.LockBlock))
	}
	return nil
}

// Rollback aborts the transaction. It runs on a context detached from the
// caller's so a cancelled request still releases its locks promptly.
func (t *tx) Rollback(ctx context.Context) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	err := t.tx.Rollback(rbCtx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) || t.tx.Conn().IsClosed() {
		return nil
	}
	return fmt.Errorf("rollback transaction: %w", err)
}
