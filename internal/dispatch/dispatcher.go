// Package dispatch hands queued work items to parallel workers. Claims use the
// store's skip-locked mode, so concurrent workers receive distinct items and
// never wait on each other's in-flight claims.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
)

var (
	// ErrEmpty means no unlocked pending item exists right now.
	ErrEmpty = errors.New("no pending work")
	// ErrNotClaimed is returned when completing or failing an item that is
	// not in progress.
	ErrNotClaimed       = errors.New("work item is not in progress")
	ErrWorkNotFound     = errors.New("work item not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrBusy             = errors.New("work item is locked, retry later")
	ErrStoreUnavailable = errors.New("store unavailable")
)

const (
	DefaultMaxAttempts = 3
	DefaultLockTimeout = 2 * time.Second
)

// Dispatcher manages the lifecycle of work items.
type Dispatcher struct {
	store       repository.Store
	maxAttempts int
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	newID       func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxAttempts caps how many times a failed item is requeued.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithLockTimeout bounds how long Complete and Fail wait for an item's row lock.
func WithLockTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.lockTimeout = t
		}
	}
}

// WithLogger sets the logger for claim and settle events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records queue activity on m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer sets the tracer for claim and settle spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New constructs a Dispatcher over store.
func New(store repository.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer("dispatch"),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue appends a pending item to queue.
func (d *Dispatcher) Enqueue(ctx context.Context, queue string, payload json.RawMessage) (*model.WorkItem, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, fmt.Errorf("%w: queue is required", ErrInvalidArgument)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload must be valid JSON", ErrInvalidArgument)
	}

	item := &model.WorkItem{
		ID:      d.newID(),
		Queue:   queue,
		Payload: payload,
		Status:  model.WorkPending,
	}
	if err := d.store.EnqueueWork(ctx, item); err != nil {
		return nil, translate(err)
	}
	d.metrics.enqueued(queue)
	d.logger.Debug("work enqueued", "queue", queue, "id", item.ID, "seq", item.Seq)
	return item, nil
}

// ClaimNext claims the oldest pending item in queue that no other
// transaction holds. It returns ErrEmpty immediately when there is none.
func (d *Dispatcher) ClaimNext(ctx context.Context, queue, workerID string) (item *model.WorkItem, err error) {
	queue = strings.TrimSpace(queue)
	workerID = strings.TrimSpace(workerID)

	ctx, span := d.tracer.Start(ctx, "dispatch.claim_next", trace.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("worker.id", workerID),
	))
	start := time.Now()
	defer func() {
		d.metrics.claimed(queue, claimResult(err), time.Since(start))
		if item != nil {
			span.SetAttributes(attribute.String("work.id", item.ID), attribute.Int("work.attempts", item.Attempts))
		}
		endSpan(span, err, ErrEmpty)
	}()

	if queue == "" || workerID == "" {
		return nil, fmt.Errorf("%w: queue and worker id are required", ErrInvalidArgument)
	}

	err = d.inTx(ctx, func(tx repository.Tx) error {
		claimed, err := tx.ClaimWork(ctx, queue, workerID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEmpty
		}
		if err != nil {
			return err
		}
		item = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("work claimed", "queue", queue, "worker", workerID, "id", item.ID, "attempt", item.Attempts)
	return item, nil
}

// Complete marks an in-progress item done.
func (d *Dispatcher) Complete(ctx context.Context, id string) (*model.WorkItem, error) {
	return d.settle(ctx, "complete", id, func(item *model.WorkItem) {
		item.Status = model.WorkDone
		item.LastError = ""
	})
}

// Fail records reason against an in-progress item. With requeue set the item
// goes back to pending until it has used its attempts; otherwise, or once
// attempts are exhausted, it is marked failed.
func (d *Dispatcher) Fail(ctx context.Context, id, reason string, requeue bool) (*model.WorkItem, error) {
	return d.settle(ctx, "fail", id, func(item *model.WorkItem) {
		item.LastError = reason
		if requeue && item.Attempts < d.maxAttempts {
			item.Status = model.WorkPending
			item.ClaimedBy = ""
			item.ClaimedAt = nil
			return
		}
		item.Status = model.WorkFailed
	})
}

func (d *Dispatcher) settle(ctx context.Context, op, id string, apply func(*model.WorkItem)) (item *model.WorkItem, err error) {
	id = strings.TrimSpace(id)
	ctx, span := d.tracer.Start(ctx, "dispatch."+op, trace.WithAttributes(attribute.String("work.id", id)))
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, fmt.Errorf("%w: work item id is required", ErrInvalidArgument)
	}

	err = d.inTx(ctx, func(tx repository.Tx) error {
		current, err := tx.LockWorkItem(ctx, id,
			repository.LockOptions{Mode: repository.LockBlock, Timeout: d.lockTimeout})
		if err != nil {
			return err
		}
		if current.Status != model.WorkInProgress {
			return fmt.Errorf("%w: status is %s", ErrNotClaimed, current.Status)
		}
		apply(current)
		if err := tx.UpdateWorkItem(ctx, current); err != nil {
			return err
		}
		item = current
		return nil
	})
	if err != nil {
		d.logger.Warn("work "+op+" failed", "id", id, "error", err)
		return nil, err
	}
	d.metrics.settled(item.Queue, item.Status)
	d.logger.Info("work "+op, "queue", item.Queue, "id", item.ID, "status", item.Status, "attempts", item.Attempts)
	return item, nil
}

// Get returns a single work item.
func (d *Dispatcher) Get(ctx context.Context, id string) (*model.WorkItem, error) {
	item, err := d.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return item, nil
}

// List returns every item in queue in sequence order.
func (d *Dispatcher) List(ctx context.Context, queue string) ([]model.WorkItem, error) {
	items, err := d.store.ListWork(ctx, queue)
	if err != nil {
		return nil, translate(err)
	}
	return items, nil
}

func (d *Dispatcher) inTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := d.store.Begin(ctx)
	if err != nil {
		return translate(err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			d.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrEmpty), errors.Is(err, ErrNotClaimed), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrWorkNotFound), errors.Is(err, ErrBusy), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return ErrWorkNotFound
	case errors.Is(err, repository.ErrLockNotAvailable), errors.Is(err, repository.ErrLockTimeout),
		errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

func claimResult(err error) string {
	switch {
	case err == nil:
		return "claimed"
	case errors.Is(err, ErrEmpty):
		return "empty"
	default:
		return "error"
	}
}

// endSpan closes span, marking it failed unless err is nil or one of expected.
func endSpan(span trace.Span, err error, expected ...error) {
	defer span.End()
	if err == nil {
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			span.SetAttributes(attribute.String("result", e.Error()))
			return
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
