package memory

import (
	"context"
	"errors"
	"sort"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

var _ repository.Tx = (*tx)(nil)

// tx buffers writes over the committed state. Reads see committed rows
// overlaid with this transaction's own changes.
type tx struct {
	s    *Store
	held map[string]func()

	inserts    []model.Application
	insertedAt map[string]int64
	apps       map[string]model.Application
	work       map[string]model.WorkItem

	done bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:          s,
		held:       make(map[string]func()),
		insertedAt: make(map[string]int64),
		apps:       make(map[string]model.Application),
		work:       make(map[string]model.WorkItem),
	}
}

func (t *tx) lock(ctx context.Context, key string, opts repository.LockOptions) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	release, err := t.s.locks.acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	t.held[key] = release
	return nil
}

func (t *tx) unlock(key string) {
	if release, ok := t.held[key]; ok {
		release()
		delete(t.held, key)
	}
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return repository.ErrTxDone
	}
	return ctx.Err()
}

// LockCampaign locks the campaign row and re-reads it once the lock is held.
func (t *tx) LockCampaign(ctx context.Context, id string, opts repository.LockOptions) (*model.Campaign, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	if _, err := t.s.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, campaignKey(id), opts); err != nil {
		return nil, err
	}
	c, err := t.s.GetCampaign(ctx, id)
	if err != nil {
		t.unlock(campaignKey(id))
		return nil, err
	}
	return c, nil
}

// eachApplication visits the transaction's view of the campaign's
// applications. Callers hold t.s.mu.
func (t *tx) eachApplication(campaignID string, fn func(model.Application)) {
	for id, app := range t.s.applications {
		if app.CampaignID != campaignID {
			continue
		}
		if updated, ok := t.apps[id]; ok {
			app = updated
		}
		fn(app)
	}
	for _, app := range t.inserts {
		if app.CampaignID == campaignID {
			fn(app)
		}
	}
}

func (t *tx) CountApplications(ctx context.Context, campaignID string, statuses ...model.Status) (int, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	match := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		match[st] = true
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	n := 0
	t.eachApplication(campaignID, func(app model.Application) {
		if len(match) == 0 || match[app.Status] {
			n++
		}
	})
	return n, nil
}

func (t *tx) ApplicationExists(ctx context.Context, campaignID, userID string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.pairTaken(pairKey{userID: userID, campaignID: campaignID}), nil
}

// pairTaken reports whether the committed state or this transaction already
// holds an application for key. Callers hold t.s.mu.
func (t *tx) pairTaken(key pairKey) bool {
	if _, ok := t.s.byPair[key]; ok {
		return true
	}
	for _, app := range t.inserts {
		if app.UserID == key.userID && app.CampaignID == key.campaignID {
			return true
		}
	}
	return false
}

func (t *tx) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	if app, ok := t.apps[id]; ok {
		return &app, nil
	}
	for _, app := range t.inserts {
		if app.ID == id {
			return &app, nil
		}
	}
	return t.s.GetApplication(ctx, id)
}

func (t *tx) ApplicationsByStatus(ctx context.Context, campaignID string, status model.Status, limit int) ([]model.Application, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []model.Application
	t.eachApplication(campaignID, func(app model.Application) {
		if app.Status == status {
			out = append(out, app)
		}
	})
	t.s.sortApplications(out, t.insertedAt)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) InsertApplication(ctx context.Context, app *model.Application) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	now := t.s.now()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = app.CreatedAt

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if _, ok := t.s.campaigns[app.CampaignID]; !ok {
		return repository.ErrNotFound
	}
	if t.pairTaken(pairKey{userID: app.UserID, campaignID: app.CampaignID}) {
		return repository.ErrUniqueViolation
	}
	t.insertedAt[app.ID] = int64(len(t.inserts))
	t.inserts = append(t.inserts, *app)
	return nil
}

func (t *tx) UpdateApplicationStatus(ctx context.Context, id string, status model.Status, note string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	now := t.s.now()
	apply := func(app *model.Application) {
		app.Status = status
		if note != "" {
			app.AdminNote = note
		}
		app.UpdatedAt = now
	}
	for i := range t.inserts {
		if t.inserts[i].ID == id {
			apply(&t.inserts[i])
			return nil
		}
	}
	app, ok := t.apps[id]
	if !ok {
		committed, err := t.s.GetApplication(ctx, id)
		if err != nil {
			return err
		}
		app = *committed
	}
	apply(&app)
	t.apps[id] = app
	return nil
}

// ClaimWork walks pending items oldest first and takes the first one whose
// row lock is free. Rows held by other transactions are skipped, never
// waited on.
func (t *tx) ClaimWork(ctx context.Context, queue, workerID string) (*model.WorkItem, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	candidates := t.pendingWork(queue)
	for _, item := range candidates {
		key := workKey(item.ID)
		if err := t.lock(ctx, key, repository.LockOptions{Mode: repository.LockSkipLocked}); err != nil {
			if errors.Is(err, repository.ErrLockNotAvailable) {
				continue
			}
			return nil, err
		}
		// Another worker may have claimed and committed between the
		// snapshot and the lock.
		current, err := t.s.GetWorkItem(ctx, item.ID)
		if err != nil || current.Status != model.WorkPending {
			t.unlock(key)
			continue
		}
		now := t.s.now()
		current.Status = model.WorkInProgress
		current.ClaimedBy = workerID
		current.Attempts++
		current.ClaimedAt = &now
		current.UpdatedAt = now
		t.work[current.ID] = cloneWorkItem(*current)
		return current, nil
	}
	return nil, repository.ErrNotFound
}

func (t *tx) pendingWork(queue string) []model.WorkItem {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []model.WorkItem
	for id, item := range t.s.work {
		if item.Queue != queue || item.Status != model.WorkPending {
			continue
		}
		if _, touched := t.work[id]; touched {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (t *tx) LockWorkItem(ctx context.Context, id string, opts repository.LockOptions) (*model.WorkItem, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	if _, err := t.s.GetWorkItem(ctx, id); err != nil {
		return nil, err
	}
	if err := t.lock(ctx, workKey(id), opts); err != nil {
		return nil, err
	}
	if item, ok := t.work[id]; ok {
		out := cloneWorkItem(item)
		return &out, nil
	}
	return t.s.GetWorkItem(ctx, id)
}

func (t *tx) UpdateWorkItem(ctx context.Context, item *model.WorkItem) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, err := t.s.GetWorkItem(ctx, item.ID); err != nil {
		return err
	}
	item.UpdatedAt = t.s.now()
	t.work[item.ID] = cloneWorkItem(*item)
	return nil
}

// Commit re-validates the uniqueness and foreign-key constraints, publishes
// the buffered writes, then releases every row lock.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return repository.ErrTxDone
	}
	defer t.finish()
	if err := ctx.Err(); err != nil {
		return err
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[pairKey]bool, len(t.inserts))
	for _, app := range t.inserts {
		if _, ok := s.campaigns[app.CampaignID]; !ok {
			return repository.ErrNotFound
		}
		key := pairKey{userID: app.UserID, campaignID: app.CampaignID}
		if _, taken := s.byPair[key]; taken || seen[key] {
			return repository.ErrUniqueViolation
		}
		seen[key] = true
	}
	for id := range t.apps {
		if _, ok := s.applications[id]; !ok {
			return repository.ErrNotFound
		}
	}

	for id, app := range t.apps {
		s.applications[id] = app
	}
	for _, app := range t.inserts {
		s.appSeq++
		s.appOrder[app.ID] = s.appSeq
		s.applications[app.ID] = app
		s.byPair[pairKey{userID: app.UserID, campaignID: app.CampaignID}] = app.ID
	}
	for id, item := range t.work {
		if _, ok := s.work[id]; ok {
			s.work[id] = item
		}
	}
	return nil
}

// Rollback discards buffered writes and releases locks.
func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	for key := range t.held {
		t.unlock(key)
	}
	t.inserts = nil
	t.apps = nil
	t.work = nil
}
