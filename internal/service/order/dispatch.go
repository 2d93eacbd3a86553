package order

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/notify"
	"github.com/Additional-Code/allot/pkg/errorbank"
)

// errAttemptTimeout marks a notification attempt that outlived its deadline.
var errAttemptTimeout = errors.New("notification timed out")

// DispatchReport summarizes one dispatch pass over an order.
type DispatchReport struct {
	OrderID   int64              `json:"order_id"`
	Status    entity.OrderStatus `json:"status"`
	Attempted int                `json:"attempted"`
	Delivered int                `json:"delivered"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
	Completed bool               `json:"completed"`
}

type passTally struct {
	attempted atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// ProcessOrder runs one dispatch pass: every ALLOTTED voucher of the order is
// sent once and the order becomes PROCESSED only when the pass had no
// failures. Individual send failures are recorded on the voucher and never
// returned; only load and write errors abort the pass.
func (s *Service) ProcessOrder(ctx context.Context, id int64) (*DispatchReport, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ProcessOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, span, id)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case entity.OrderStatusProcessed:
		return &DispatchReport{OrderID: id, Status: order.Status, Completed: true}, nil
	case entity.OrderStatusCreated:
		return nil, errorbank.Unprocessable("order has not been materialized", errorbank.WithDetail("id", id))
	}

	vouchers, err := s.vouchers.ListByOrder(ctx, id, entity.VoucherStatusAllotted)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load vouchers", errorbank.WithCause(err))
	}

	start := time.Now()
	var tally passTally

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.dispatch.Concurrency)
	for _, v := range vouchers {
		if v.Exhausted {
			tally.skipped.Add(1)
			tally.failed.Add(1)
			s.metrics.attempt(ctx, outcomeSkipped)
			continue
		}
		g.Go(func() error {
			return s.dispatchVoucher(gctx, v, &tally)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch aborted")
		s.metrics.pass(ctx, start, false)
		return nil, errorbank.Internal("dispatch pass aborted", errorbank.WithCause(err))
	}

	report := &DispatchReport{
		OrderID:   id,
		Status:    order.Status,
		Attempted: int(tally.attempted.Load()),
		Delivered: int(tally.delivered.Load()),
		Failed:    int(tally.failed.Load()),
		Skipped:   int(tally.skipped.Load()),
	}

	if report.Failed == 0 {
		if _, err := s.orders.UpdateStatus(ctx, id, entity.OrderStatusProcessing, entity.OrderStatusProcessed); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "order update failed")
			s.metrics.pass(ctx, start, false)
			return nil, errorbank.Internal("failed to complete order", errorbank.WithCause(err))
		}
		// A lost compare-and-set means a concurrent pass completed the order.
		report.Status = entity.OrderStatusProcessed
		report.Completed = true
	}
	s.invalidate(ctx, id)
	s.metrics.pass(ctx, start, report.Completed)

	s.logger.Info("dispatch pass finished",
		zap.Int64("id", id),
		zap.Int("attempted", report.Attempted),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Bool("completed", report.Completed),
	)

	return report, nil
}

// Sweep re-drives every order that has not finished: orders still CREATED are
// materialized first, then every PROCESSING order gets a dispatch pass.
// Errors on one order do not stop the others.
func (s *Service) Sweep(ctx context.Context) ([]DispatchReport, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Sweep")
	defer span.End()

	var errs []error

	created, err := s.orders.ListByStatus(ctx, entity.OrderStatusCreated, s.dispatch.SweepBatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list created orders", errorbank.WithCause(err))
	}
	for _, order := range created {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := s.Materialize(ctx, order.ID); err != nil {
			s.logger.Error("sweep materialize failed", zap.Int64("id", order.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}

	processing, err := s.orders.ListByStatus(ctx, entity.OrderStatusProcessing, s.dispatch.SweepBatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list processing orders", errorbank.WithCause(err))
	}

	reports := make([]DispatchReport, 0, len(processing))
	for _, order := range processing {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := s.ProcessOrder(ctx, order.ID)
		if err != nil {
			s.logger.Error("sweep dispatch failed", zap.Int64("id", order.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		reports = append(reports, *report)
	}

	s.logger.Info("sweep finished",
		zap.Int("created", len(created)),
		zap.Int("processing", len(processing)),
		zap.Int("errors", len(errs)),
	)
	return reports, errors.Join(errs...)
}

func (s *Service) dispatchVoucher(ctx context.Context, v entity.Voucher, tally *passTally) error {
	tally.attempted.Add(1)

	result, err := s.send(ctx, v)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	mark := entity.RetryMark{MaxAttempts: s.dispatch.MaxAttempts}
	var outcome string
	switch {
	case errors.Is(err, errAttemptTimeout):
		outcome = outcomeTimeout
		mark.Reason = errAttemptTimeout.Error()
	case err != nil:
		outcome = outcomeTransient
		mark.Reason = err.Error()
	case result.Outcome == notify.Delivered:
		s.metrics.attempt(ctx, outcomeDelivered)
		ok, err := s.vouchers.UpdateStatus(ctx, v.ID, entity.VoucherStatusAllotted, entity.VoucherStatusProcessed)
		if err != nil {
			return err
		}
		if ok {
			tally.delivered.Add(1)
		}
		return nil
	case result.Outcome == notify.Permanent:
		outcome = outcomePermanent
		mark.Permanent = true
		mark.Reason = reasonOr(result.Reason, "notification rejected")
	default:
		outcome = outcomeTransient
		mark.Reason = reasonOr(result.Reason, "notification not delivered")
	}
	s.metrics.attempt(ctx, outcome)

	recorded, err := s.vouchers.IncrementRetry(ctx, v.ID, mark)
	if err != nil {
		return err
	}
	if !recorded {
		// Another pass already moved the voucher on.
		return nil
	}
	tally.failed.Add(1)

	s.logger.Warn("voucher dispatch failed",
		zap.Int64("order_id", v.OrderID),
		zap.Int64("voucher_id", v.ID),
		zap.String("outcome", outcome),
		zap.String("reason", mark.Reason),
		zap.Int("retry_count", v.RetryCount+1),
		zap.Bool("exhausted", mark.Exhausts(v.RetryCount)),
	)
	return nil
}

// send runs one notification attempt under the per-attempt deadline. The
// slot is released when the deadline passes even if the notifier keeps
// running.
func (s *Service) send(ctx context.Context, v entity.Voucher) (notify.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.dispatch.AttemptTimeout)
	defer cancel()

	type attempt struct {
		result notify.Result
		err    error
	}
	done := make(chan attempt, 1)
	go func() {
		result, err := s.notifier.Send(attemptCtx, v)
		done <- attempt{result: result, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil && errors.Is(a.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return notify.Result{}, errAttemptTimeout
		}
		return a.result, a.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return notify.Result{}, ctx.Err()
		}
		return notify.Result{}, errAttemptTimeout
	}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
