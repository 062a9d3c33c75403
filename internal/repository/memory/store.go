// Package memory provides an in-process implementation of the transactional
// store. Row locks behave like their Postgres counterparts (blocking with
// timeout, NOWAIT, SKIP LOCKED) and the (user, campaign) uniqueness
// constraint is enforced on insert and again at commit, so it is used for
// tests and single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

// Compile-time contract assertion.
var _ repository.Store = (*Store)(nil)

type pairKey struct {
	userID     string
	campaignID string
}

// Store holds committed state. Transactions buffer their writes and publish
// them atomically on Commit.
type Store struct {
	mu           sync.RWMutex
	campaigns    map[string]model.Campaign
	applications map[string]model.Application
	byPair       map[pairKey]string
	appOrder     map[string]int64
	appSeq       int64
	work         map[string]model.WorkItem
	seq          int64

	locks *lockTable
	now   func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		campaigns:    make(map[string]model.Campaign),
		applications: make(map[string]model.Application),
		byPair:       make(map[pairKey]string),
		appOrder:     make(map[string]int64),
		work:         make(map[string]model.WorkItem),
		locks:        newLockTable(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (repository.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(s), nil
}

// Close is a no-op.
func (s *Store) Close() {}

// CreateCampaign inserts a new campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" {
		return fmt.Errorf("insert campaign: empty id")
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.campaigns[c.ID]; exists {
		return fmt.Errorf("insert campaign %s: %w", c.ID, repository.ErrUniqueViolation)
	}
	s.campaigns[c.ID] = cloneCampaign(*c)
	return nil
}

// GetCampaign returns a single campaign or ErrNotFound.
func (s *Store) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneCampaign(c)
	return &out, nil
}

// ListCampaigns returns all campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, cloneCampaign(c))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SetCampaignActive updates the active flag. Like an UPDATE it waits for
// any transaction holding the campaign row.
func (s *Store) SetCampaignActive(ctx context.Context, id string, active bool) (*model.Campaign, error) {
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	release, err := s.locks.acquire(ctx, campaignKey(id), repository.LockOptions{Mode: repository.LockBlock})
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.Active = active
	c.UpdatedAt = s.now()
	s.campaigns[id] = c
	out := cloneCampaign(c)
	return &out, nil
}

// DeleteCampaign removes the campaign and cascades to its applications.
func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return err
	}
	release, err := s.locks.acquire(ctx, campaignKey(id), repository.LockOptions{Mode: repository.LockBlock})
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return repository.ErrNotFound
	}
	for appID, app := range s.applications {
		if app.CampaignID != id {
			continue
		}
		delete(s.byPair, pairKey{userID: app.UserID, campaignID: id})
		delete(s.appOrder, appID)
		delete(s.applications, appID)
	}
	delete(s.campaigns, id)
	return nil
}

// GetApplication returns a single application or ErrNotFound.
func (s *Store) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.applications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &app, nil
}

// ListApplications returns the campaign's applications in creation order.
func (s *Store) ListApplications(ctx context.Context, campaignID string) ([]model.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, repository.ErrNotFound
	}
	var out []model.Application
	for _, app := range s.applications {
		if app.CampaignID == campaignID {
			out = append(out, app)
		}
	}
	s.sortApplications(out, nil)
	return out, nil
}

// CountByStatus returns per-status counts for reporting.
func (s *Store) CountByStatus(ctx context.Context, campaignID string) (map[model.Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, repository.ErrNotFound
	}
	counts := make(map[model.Status]int, len(model.Statuses()))
	for _, st := range model.Statuses() {
		counts[st] = 0
	}
	for _, app := range s.applications {
		if app.CampaignID == campaignID {
			counts[app.Status]++
		}
	}
	return counts, nil
}

// EnqueueWork appends a pending item to its queue.
func (s *Store) EnqueueWork(ctx context.Context, item *model.WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.ID == "" {
		return fmt.Errorf("insert work item: empty id")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.work[item.ID]; exists {
		return fmt.Errorf("insert work item %s: %w", item.ID, repository.ErrUniqueViolation)
	}
	s.seq++
	item.Seq = s.seq
	if item.Status == "" {
		item.Status = model.WorkPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = item.CreatedAt
	s.work[item.ID] = cloneWorkItem(*item)
	return nil
}

// GetWorkItem returns a single work item or ErrNotFound.
func (s *Store) GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.work[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneWorkItem(item)
	return &out, nil
}

// ListWork returns every item in queue in sequence order.
func (s *Store) ListWork(ctx context.Context, queue string) ([]model.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []model.WorkItem
	for _, item := range s.work {
		if item.Queue == queue {
			out = append(out, cloneWorkItem(item))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// sortApplications orders apps by insertion. pending holds the insertion
// order of rows not yet committed; they sort after every committed row.
// Callers hold s.mu.
func (s *Store) sortApplications(apps []model.Application, pending map[string]int64) {
	order := func(id string) int64 {
		if n, ok := s.appOrder[id]; ok {
			return n
		}
		return s.appSeq + 1 + pending[id]
	}
	sort.Slice(apps, func(i, j int) bool { return order(apps[i].ID) < order(apps[j].ID) })
}

func cloneCampaign(c model.Campaign) model.Campaign {
	if c.MaxParticipants != nil {
		limit := *c.MaxParticipants
		c.MaxParticipants = &limit
	}
	return c
}

func cloneWorkItem(item model.WorkItem) model.WorkItem {
	if item.Payload != nil {
		item.Payload = append([]byte(nil), item.Payload...)
	}
	if item.ClaimedAt != nil {
		at := *item.ClaimedAt
		item.ClaimedAt = &at
	}
	return item
}
