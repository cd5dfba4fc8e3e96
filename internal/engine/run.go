package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/db/driver"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/telemetry"
)

// subject identifies what an operation touched, for logs and spans.
type subject struct {
	taskID     int64
	incidentID int64
	userID     string
}

func (s subject) attrs() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if s.taskID != 0 {
		kv = append(kv, attribute.Int64("verity.task_id", s.taskID))
	}
	if s.incidentID != 0 {
		kv = append(kv, attribute.Int64("verity.incident_id", s.incidentID))
	}
	if s.userID != "" {
		kv = append(kv, attribute.String("verity.user_id", s.userID))
	}
	return kv
}

// observe runs fn inside a span, records its outcome and maps unexpected
// failures to a generic internal error after logging them.
func (e *Engine) observe(ctx context.Context, op string, sub subject, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(sub.attrs()...))
	defer span.End()
	start := time.Now()

	err := fn(ctx)
	outcome := telemetry.OutcomeOK
	if err != nil {
		cat := verrors.CategoryOf(err)
		if cat == verrors.CategoryInternal {
			e.logger.Error("operation failed",
				"op", op,
				"task_id", sub.taskID,
				"incident_id", sub.incidentID,
				"user_id", sub.userID,
				"error", err,
			)
			if ve := verrors.AsVerityError(err); ve == nil || ve.Code != verrors.CodeInternal {
				err = verrors.ErrInternal(op, err)
			}
		}
		outcome = cat.String()
		span.RecordError(err)
		span.SetStatus(codes.Error, cat.String())
	}
	e.metrics.ObserveOperation(op, outcome, time.Since(start))
	return err
}

// mutate runs fn in a transaction. Serialization failures rerun the whole
// transaction with exponential backoff; once retries are exhausted the
// caller gets a conflict. Events queued by fn are published only after the
// transaction that queued them commits.
func (e *Engine) mutate(ctx context.Context, op string, sub subject, fn func(tx *db.TxOps, batch *events.Batch) error) error {
	return e.observe(ctx, op, sub, func(ctx context.Context) error {
		batch := &events.Batch{}
		attempts := 0
		run := func() error {
			attempts++
			batch.Reset()
			err := e.db.RunInTx(ctx, func(tx *db.TxOps) error {
				return fn(tx, batch)
			})
			if err != nil && !driver.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		notify := func(err error, wait time.Duration) {
			e.metrics.ObserveRetry(op)
			e.logger.Debug("retrying transaction", "op", op, "attempt", attempts, "wait", wait, "error", err)
		}

		err := backoff.RetryNotify(run, backoff.WithContext(e.newBackoff(), ctx), notify)
		if err != nil {
			if driver.IsRetryable(err) {
				return verrors.ErrTxConflict(op, attempts).WithCause(err)
			}
			return err
		}

		e.metrics.ObserveEvents(batch.Events())
		batch.Flush(e.publisher)
		return nil
	})
}

// newBackoff returns a fresh policy; BackOff values are stateful.
func (e *Engine) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if e.initialInterval > 0 {
		bo.InitialInterval = e.initialInterval
	}
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, uint64(e.maxRetries))
}

// view runs fn in a read transaction without retries or events.
func (e *Engine) view(ctx context.Context, op string, sub subject, fn func(tx *db.TxOps) error) error {
	return e.observe(ctx, op, sub, func(ctx context.Context) error {
		return e.db.RunInTx(ctx, fn)
	})
}
