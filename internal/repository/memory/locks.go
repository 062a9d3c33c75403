package memory

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

// lockTable hands out one exclusive lock per row key. An entry lives while
// at least one caller holds or waits on it, so waiters always queue on the
// same lock and idle rows cost nothing.
type lockTable struct {
	mu   sync.Mutex
	rows map[string]*rowLock
}

type rowLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{rows: make(map[string]*rowLock)}
}

func (l *lockTable) ref(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key]
	if !ok {
		row = &rowLock{sem: semaphore.NewWeighted(1)}
		l.rows[key] = row
	}
	row.refs++
	return row.sem
}

func (l *lockTable) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key]
	if !ok {
		return
	}
	row.refs--
	if row.refs <= 0 {
		delete(l.rows, key)
	}
}

func (l *lockTable) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// acquire takes the lock for key according to opts and returns the function
// that releases it. Blocking waits end with ErrLockTimeout when the timeout
// fires and with ctx.Err() when the caller gives up first; either way
// nothing is held on return.
func (l *lockTable) acquire(ctx context.Context, key string, opts repository.LockOptions) (func(), error) {
	sem := l.ref(key)
	release := func() {
		sem.Release(1)
		l.unref(key)
	}

	switch opts.Mode {
	case repository.LockNoWait, repository.LockSkipLocked:
		if !sem.TryAcquire(1) {
			l.unref(key)
			return nil, repository.ErrLockNotAvailable
		}
		return release, nil
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, repository.ErrLockTimeout
	}
	return release, nil
}

func campaignKey(id string) string { return "campaign/" + id }

func workKey(id string) string { return "work/" + id }
