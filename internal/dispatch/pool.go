package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
)

// Handler processes one claimed item. A returned error fails the item and
// requeues it while attempts remain.
type Handler func(ctx context.Context, item *model.WorkItem) error

// PoolConfig configures a Pool.
type PoolConfig struct {
	Queue   string
	Workers int
	// PollInterval is how long a worker sleeps after ErrEmpty or ErrBusy.
	PollInterval time.Duration
	// StopWhenEmpty ends each worker the first time the queue is empty
	// instead of polling.
	StopWhenEmpty bool
	// WorkerPrefix names workers "<prefix>-<n>".
	WorkerPrefix string
}

// Stats counts what a Pool run did.
type Stats struct {
	Completed int64
	Failed    int64
}

// Pool drains a queue with a fixed number of parallel workers.
type Pool struct {
	d       *Dispatcher
	cfg     PoolConfig
	handler Handler
	logger  *slog.Logger

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool builds a pool running handler over cfg.Queue.
func NewPool(d *Dispatcher, cfg PoolConfig, handler Handler) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.WorkerPrefix == "" {
		cfg.WorkerPrefix = "worker"
	}
	return &Pool{d: d, cfg: cfg, handler: handler, logger: d.logger.With("queue", cfg.Queue)}
}

// Run blocks until ctx is cancelled or, with StopWhenEmpty, the queue is
// drained. Cancellation is a clean stop and returns nil; a store fault stops
// every worker and is returned.
func (p *Pool) Run(ctx context.Context) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i <= p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.cfg.WorkerPrefix, i)
		g.Go(func() error { return p.work(ctx, workerID) })
	}
	err := g.Wait()
	stats := Stats{Completed: p.completed.Load(), Failed: p.failed.Load()}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return stats, err
}

func (p *Pool) work(ctx context.Context, workerID string) error {
	log := p.logger.With("worker", workerID)
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		item, err := p.d.ClaimNext(ctx, p.cfg.Queue, workerID)
		switch {
		case errors.Is(err, ErrEmpty):
			if p.cfg.StopWhenEmpty {
				return nil
			}
			if err := p.pause(ctx); err != nil {
				return err
			}
			continue
		case errors.Is(err, ErrBusy):
			log.Debug("claim busy, backing off", "error", err)
			if err := p.pause(ctx); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		if herr := p.handler(ctx, item); herr != nil {
			p.failed.Add(1)
			log.Warn("work handler failed", "id", item.ID, "attempt", item.Attempts, "error", herr)
			if _, err := p.d.Fail(context.WithoutCancel(ctx), item.ID, herr.Error(), true); err != nil {
				return err
			}
			continue
		}
		if _, err := p.d.Complete(context.WithoutCancel(ctx), item.ID); err != nil {
			return err
		}
		p.completed.Add(1)
	}
}

// pause waits one poll interval or until ctx ends.
func (p *Pool) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.PollInterval):
		return nil
	}
}
