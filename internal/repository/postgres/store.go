// Package postgres implements the transactional store on PostgreSQL using
// pgx directly (no ORM). Row locks map onto SELECT ... FOR UPDATE with
// NOWAIT / SKIP LOCKED, blocking waits are bounded with a transaction-local
// lock_timeout, and the one-application-per-user rule is the
// applications_user_campaign_key unique constraint.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

var _ repository.Store = (*Store)(nil)

const (
	campaignColumns    = `id, title, description, max_participants, is_active, created_at, updated_at`
	applicationColumns = `id, campaign_id, user_id, status, message, admin_note, created_at, updated_at`
	workColumns        = `id, seq, queue, payload, status, claimed_by, attempts, last_error, created_at, claimed_at, updated_at`
)

// Store persists campaigns, applications and work items.
type Store struct {
	db *pgxpool.Pool
}

// NewStore constructs a Store over an open pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() { s.db.Close() }

// Begin opens a read-committed transaction.
func (s *Store) Begin(ctx context.Context) (repository.Tx, error) {
	pgtx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", classify(ctx, err, repository.LockBlock))
	}
	return &tx{tx: pgtx}, nil
}

// CreateCampaign inserts a new campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO campaigns (id, title, description, max_participants, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Title, c.Description, c.MaxParticipants, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", classify(ctx, err, repository.LockBlock))
	}
	return nil
}

// GetCampaign returns a single campaign or ErrNotFound.
func (s *Store) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err != nil {
		return nil, classify(ctx, err, repository.LockBlock)
	}
	return c, nil
}

// ListCampaigns returns all campaigns ordered by creation time descending.
func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// SetCampaignActive flips the active flag. The UPDATE queues behind any
// transaction holding the campaign row.
func (s *Store) SetCampaignActive(ctx context.Context, id string, active bool) (*model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRow(ctx,
		`UPDATE campaigns SET is_active = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+campaignColumns,
		id, active))
	if err != nil {
		return nil, classify(ctx, err, repository.LockBlock)
	}
	return c, nil
}

// DeleteCampaign removes the campaign; applications go with it through
// ON DELETE CASCADE.
func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", classify(ctx, err, repository.LockBlock))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetApplication returns a single application or ErrNotFound.
func (s *Store) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	app, err := scanApplication(s.db.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return nil, classify(ctx, err, repository.LockBlock)
	}
	return app, nil
}

// ListApplications returns the campaign's applications in creation order.
func (s *Store) ListApplications(ctx context.Context, campaignID string) ([]model.Application, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+applicationColumns+`
		 FROM applications
		 WHERE campaign_id = $1
		 ORDER BY seq ASC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
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

// CountByStatus reads per-status counts without locking.
func (s *Store) CountByStatus(ctx context.Context, campaignID string) (map[model.Status]int, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT status, COUNT(*) FROM applications WHERE campaign_id = $1 GROUP BY status`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("count applications: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int, len(model.Statuses()))
	for _, st := range model.Statuses() {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			raw string
			n   int
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		st, err := model.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// EnqueueWork inserts a pending work item; seq is assigned by the database.
func (s *Store) EnqueueWork(ctx context.Context, item *model.WorkItem) error {
	if item.Status == "" {
		item.Status = model.WorkPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.UpdatedAt = item.CreatedAt
	err := s.db.QueryRow(ctx,
		`INSERT INTO work_items (id, queue, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING seq`,
		item.ID, item.Queue, nullableJSON(item.Payload), string(item.Status), item.CreatedAt, item.UpdatedAt,
	).Scan(&item.Seq)
	if err != nil {
		return fmt.Errorf("insert work item: %w", classify(ctx, err, repository.LockBlock))
	}
	return nil
}

// GetWorkItem returns a single work item or ErrNotFound.
func (s *Store) GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	item, err := scanWorkItem(s.db.QueryRow(ctx,
		`SELECT `+workColumns+` FROM work_items WHERE id = $1`, id))
	if err != nil {
		return nil, classify(ctx, err, repository.LockBlock)
	}
	return item, nil
}

// ListWork returns every item in queue in sequence order.
func (s *Store) ListWork(ctx context.Context, queue string) ([]model.WorkItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+workColumns+` FROM work_items WHERE queue = $1 ORDER BY seq ASC`, queue)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var c model.Campaign
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.MaxParticipants, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanApplication(row pgx.Row) (*model.Application, error) {
	var (
		app    model.Application
		status string
	)
	if err := row.Scan(&app.ID, &app.CampaignID, &app.UserID, &status, &app.Message, &app.AdminNote, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	app.Status = st
	return &app, nil
}

func scanWorkItem(row pgx.Row) (*model.WorkItem, error) {
	var (
		item    model.WorkItem
		payload []byte
		status  string
	)
	if err := row.Scan(&item.ID, &item.Seq, &item.Queue, &payload, &status, &item.ClaimedBy,
		&item.Attempts, &item.LastError, &item.CreatedAt, &item.ClaimedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := model.ParseWorkStatus(status)
	if err != nil {
		return nil, err
	}
	item.Status = st
	item.Payload = payload
	return &item, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
