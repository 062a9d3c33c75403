// Package admission decides whether a user may join a capacity-bounded
// campaign. Every decision runs inside one store transaction that holds the
// campaign's exclusive row lock, so the duplicate check, the admitted count
// and the insert are atomic with respect to every other decision on the same
// campaign. Decisions on different campaigns never block each other.
//
// The controller never retries. Busy and Conflict are transient and left to
// the caller's retry policy; every other rejection is a terminal answer.
package admission

import (
	"context"
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

// DefaultLockTimeout bounds how long Apply waits for the campaign lock.
const DefaultLockTimeout = 2 * time.Second

// Controller admits applications against campaign capacity.
type Controller struct {
	store       repository.Store
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	newID       func() string
	now         func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLockTimeout sets the blocking lock wait bound. Non-positive values are
// ignored.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithLogger sets the logger for admission decisions.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics records decisions and lock waits on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer sets the tracer for per-operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// New constructs a Controller over store.
func New(store repository.Store, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer("admission"),
		newID:       uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LockTimeout returns the configured blocking wait bound.
func (c *Controller) LockTimeout() time.Duration { return c.lockTimeout }

// Apply admits userID to the campaign, waiting up to the lock timeout for
// the campaign lock. A timed-out wait returns ErrBusy.
func (c *Controller) Apply(ctx context.Context, campaignID, userID, message string) (*model.Application, error) {
	return c.apply(ctx, "apply", campaignID, userID, message,
		repository.LockOptions{Mode: repository.LockBlock, Timeout: c.lockTimeout})
}

// ApplyNoWait is Apply for latency-sensitive paths: if another decision holds
// the campaign lock it fails immediately with ErrBusy instead of queuing.
func (c *Controller) ApplyNoWait(ctx context.Context, campaignID, userID, message string) (*model.Application, error) {
	return c.apply(ctx, "apply_nowait", campaignID, userID, message,
		repository.LockOptions{Mode: repository.LockNoWait})
}

func (c *Controller) apply(ctx context.Context, op, campaignID, userID, message string, lock repository.LockOptions) (app *model.Application, err error) {
	campaignID = strings.TrimSpace(campaignID)
	userID = strings.TrimSpace(userID)

	ctx, span := c.tracer.Start(ctx, "admission."+op, trace.WithAttributes(
		attribute.String("campaign.id", campaignID),
		attribute.String("user.id", userID),
		attribute.String("lock.mode", lock.Mode.String()),
	))
	start := time.Now()
	defer func() {
		c.finish(span, op, start, err, "campaign_id", campaignID, "user_id", userID)
	}()

	if campaignID == "" || userID == "" {
		return nil, fmt.Errorf("%w: campaign id and user id are required", ErrInvalidArgument)
	}

	err = c.inTx(ctx, ErrCampaignNotFound, func(tx repository.Tx) error {
		campaign, err := c.lockCampaign(ctx, tx, campaignID, lock)
		if err != nil {
			return err
		}
		if !campaign.Active {
			return ErrCampaignClosed
		}

		exists, err := tx.ApplicationExists(ctx, campaignID, userID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyApplied
		}

		if campaign.Bounded() {
			admitted, err := tx.CountApplications(ctx, campaignID, model.AdmittedStatuses()...)
			if err != nil {
				return err
			}
			if admitted >= *campaign.MaxParticipants {
				return ErrCapacityExceeded
			}
		}

		now := c.now()
		app = &model.Application{
			ID:         c.newID(),
			CampaignID: campaignID,
			UserID:     userID,
			Status:     model.StatusPending,
			Message:    message,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.InsertApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("application.id", app.ID))
	return app, nil
}

// BatchResult reports what BatchApprove did.
type BatchResult struct {
	Approved []string `json:"approved"`
	// LimitReached is set when promotion stopped because the approved count
	// reached capacity, including when it had already been reached.
	LimitReached bool `json:"limit_reached"`
}

// BatchApprove promotes up to maxToApprove pending applications, oldest
// first. It holds the campaign lock for the whole batch and re-reads the
// approved count before every promotion, stopping as soon as capacity is
// reached.
func (c *Controller) BatchApprove(ctx context.Context, campaignID string, maxToApprove int) (res BatchResult, err error) {
	const op = "batch_approve"
	campaignID = strings.TrimSpace(campaignID)

	ctx, span := c.tracer.Start(ctx, "admission."+op, trace.WithAttributes(
		attribute.String("campaign.id", campaignID),
		attribute.Int("batch.max", maxToApprove),
	))
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int("batch.approved", len(res.Approved)),
			attribute.Bool("batch.limit_reached", res.LimitReached),
		)
		c.finish(span, op, start, err, "campaign_id", campaignID,
			"approved", len(res.Approved), "limit_reached", res.LimitReached)
	}()

	if campaignID == "" {
		return BatchResult{}, fmt.Errorf("%w: campaign id is required", ErrInvalidArgument)
	}
	if maxToApprove <= 0 {
		return BatchResult{}, fmt.Errorf("%w: max must be positive", ErrInvalidArgument)
	}

	var out BatchResult
	err = c.inTx(ctx, ErrCampaignNotFound, func(tx repository.Tx) error {
		out = BatchResult{}
		campaign, err := c.lockCampaign(ctx, tx, campaignID,
			repository.LockOptions{Mode: repository.LockBlock, Timeout: c.lockTimeout})
		if err != nil {
			return err
		}

		pending, err := tx.ApplicationsByStatus(ctx, campaignID, model.StatusPending, maxToApprove)
		if err != nil {
			return err
		}
		for _, app := range pending {
			if campaign.Bounded() {
				approved, err := tx.CountApplications(ctx, campaignID, model.StatusApproved)
				if err != nil {
					return err
				}
				if approved >= *campaign.MaxParticipants {
					out.LimitReached = true
					break
				}
			}
			if err := tx.UpdateApplicationStatus(ctx, app.ID, model.StatusApproved, ""); err != nil {
				return err
			}
			out.Approved = append(out.Approved, app.ID)
		}

		if campaign.Bounded() && !out.LimitReached {
			approved, err := tx.CountApplications(ctx, campaignID, model.StatusApproved)
			if err != nil {
				return err
			}
			out.LimitReached = approved >= *campaign.MaxParticipants
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	if out.Approved == nil {
		out.Approved = []string{}
	}
	c.metrics.addApproved(len(out.Approved))
	return out, nil
}

// Approve moves a pending application to approved, provided the campaign's
// approved count is still below capacity.
func (c *Controller) Approve(ctx context.Context, applicationID, note string) (*model.Application, error) {
	return c.transition(ctx, "approve", applicationID, model.StatusApproved, note)
}

// Reject moves a pending or approved application to rejected.
func (c *Controller) Reject(ctx context.Context, applicationID, note string) (*model.Application, error) {
	return c.transition(ctx, "reject", applicationID, model.StatusRejected, note)
}

// Withdraw moves a pending or approved application to withdrawn, freeing its
// slot for a different user.
func (c *Controller) Withdraw(ctx context.Context, applicationID string) (*model.Application, error) {
	return c.transition(ctx, "withdraw", applicationID, model.StatusWithdrawn, "")
}

func (c *Controller) transition(ctx context.Context, op, applicationID string, next model.Status, note string) (app *model.Application, err error) {
	applicationID = strings.TrimSpace(applicationID)

	ctx, span := c.tracer.Start(ctx, "admission."+op, trace.WithAttributes(
		attribute.String("application.id", applicationID),
		attribute.String("status.next", string(next)),
	))
	start := time.Now()
	defer func() {
		c.finish(span, op, start, err, "application_id", applicationID, "next", next)
	}()

	if applicationID == "" {
		return nil, fmt.Errorf("%w: application id is required", ErrInvalidArgument)
	}

	// The unlocked read only locates the campaign; the status is re-read
	// under its lock.
	located, err := c.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, translate(err, ErrApplicationNotFound)
	}

	err = c.inTx(ctx, ErrApplicationNotFound, func(tx repository.Tx) error {
		campaign, err := c.lockCampaign(ctx, tx, located.CampaignID,
			repository.LockOptions{Mode: repository.LockBlock, Timeout: c.lockTimeout})
		if err != nil {
			return err
		}
		current, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}

		if next == model.StatusApproved && campaign.Bounded() {
			approved, err := tx.CountApplications(ctx, campaign.ID, model.StatusApproved)
			if err != nil {
				return err
			}
			if approved >= *campaign.MaxParticipants {
				return ErrCapacityExceeded
			}
		}

		if err := tx.UpdateApplicationStatus(ctx, applicationID, next, note); err != nil {
			return err
		}
		current.Status = next
		if note != "" {
			current.AdminNote = note
		}
		current.UpdatedAt = c.now()
		app = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// inTx runs fn inside a transaction, committing on success and rolling back
// otherwise. Errors are translated with notFound standing in for
// repository.ErrNotFound.
func (c *Controller) inTx(ctx context.Context, notFound error, fn func(tx repository.Tx) error) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return translate(err, notFound)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return translate(err, notFound)
	}
	return translate(tx.Commit(ctx), notFound)
}

func (c *Controller) lockCampaign(ctx context.Context, tx repository.Tx, campaignID string, opts repository.LockOptions) (*model.Campaign, error) {
	start := time.Now()
	campaign, err := tx.LockCampaign(ctx, campaignID, opts)
	c.metrics.observeLockWait(opts.Mode.String(), time.Since(start))
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// finish records metrics, closes the span and logs the decision at a level
// matching its outcome.
func (c *Controller) finish(span trace.Span, op string, start time.Time, err error, attrs ...any) {
	outcome := OutcomeOf(err)
	elapsed := time.Since(start)
	c.metrics.observe(op, outcome, elapsed)

	span.SetAttributes(attribute.String("admission.outcome", outcome.String()))
	if outcome == OutcomeStoreFault {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	attrs = append(attrs, "op", op, "outcome", outcome.String(), "elapsed", elapsed)
	switch {
	case err == nil:
		c.logger.Info("admission decision", attrs...)
	case outcome == OutcomeStoreFault:
		c.logger.Error("admission failed", append(attrs, "error", err)...)
	case outcome.Retryable(), outcome == OutcomeCancelled:
		c.logger.Info("admission deferred", append(attrs, "error", err)...)
	default:
		c.logger.Debug("admission rejected", append(attrs, "error", err)...)
	}
}
