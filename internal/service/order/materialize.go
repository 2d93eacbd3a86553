package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/allot/internal/batch"
	"github.com/Additional-Code/allot/internal/entity"
	voucherrepo "github.com/Additional-Code/allot/internal/repository/voucher"
	"github.com/Additional-Code/allot/internal/storage"
	"github.com/Additional-Code/allot/internal/validation"
	"github.com/Additional-Code/allot/pkg/errorbank"
)

// Materialize re-reads an order's stored batch, persists one voucher per row
// and allots them all before moving the order to PROCESSING. Orders that have
// already left CREATED are returned unchanged.
func (s *Service) Materialize(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Materialize", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, span, id)
	if err != nil {
		return nil, err
	}
	if order.Status != entity.OrderStatusCreated {
		s.logger.Info("order already materialized", zap.Int64("id", id), zap.String("status", order.Status.String()))
		return order, nil
	}

	rows, err := s.readArtifact(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "artifact error")
		return nil, err
	}

	valid, err := validation.ValidateRows(rows)
	if err != nil {
		span.SetStatus(codes.Error, "invalid row")
		return nil, rowError(err)
	}
	if len(valid) != order.VoucherCount {
		span.SetStatus(codes.Error, "row count mismatch")
		return nil, errorbank.Unprocessable("stored batch does not match order",
			errorbank.WithDetail("voucher_count", order.VoucherCount),
			errorbank.WithDetail("rows", len(valid)),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batch.MaterializeConcurrency)
	for _, row := range valid {
		g.Go(func() error {
			return s.persistVoucher(gctx, order, row)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, errorbank.Internal("failed to persist vouchers", errorbank.WithCause(err))
	}

	allotted, err := s.vouchers.BulkUpdateStatus(ctx, order.ID, entity.VoucherStatusCreated, entity.VoucherStatusAllotted)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allot failed")
		return nil, errorbank.Internal("failed to allot vouchers", errorbank.WithCause(err))
	}

	advanced, err := s.orders.UpdateStatus(ctx, order.ID, entity.OrderStatusCreated, entity.OrderStatusProcessing)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order update failed")
		return nil, errorbank.Internal("failed to advance order", errorbank.WithCause(err))
	}
	s.invalidate(ctx, order.ID)

	if !advanced {
		s.logger.Info("order advanced by a concurrent materialization", zap.Int64("id", order.ID))
		return s.load(ctx, span, order.ID)
	}

	now := time.Now().UTC()
	order.Status = entity.OrderStatusProcessing
	order.UpdatedAt = now

	s.logger.Info("order materialized",
		zap.Int64("id", order.ID),
		zap.Int("vouchers", len(valid)),
		zap.Int64("allotted", allotted),
	)

	s.publish(ctx, s.messaging.topics.OrderAllotted, order.ID, OrderAllottedEvent{
		ID:         order.ID,
		Allotted:   len(valid),
		AllottedAt: now,
	})

	return order, nil
}

func (s *Service) readArtifact(ctx context.Context, order *entity.Order) ([]batch.Row, error) {
	rc, err := s.store.Open(ctx, storage.OrderFileKey(order.ExternalRef))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errorbank.Unavailable("stored batch file is missing", errorbank.WithCause(err))
		}
		return nil, errorbank.Unavailable("failed to open stored batch file", errorbank.WithCause(err))
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, errorbank.Unavailable("failed to read stored batch file", errorbank.WithCause(err))
	}

	rows, err := batch.ParseBytes(body, batch.Options{SkipHeader: s.batch.SkipHeader})
	if err != nil {
		return nil, errorbank.Unprocessable("stored batch file is malformed", errorbank.WithCause(err))
	}
	return rows, nil
}

// persistVoucher inserts the voucher for one row. A row that already has a
// voucher from an earlier run is left alone; a code collision draws a new code.
func (s *Service) persistVoucher(ctx context.Context, order *entity.Order, row validation.ValidatedRow) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		v := &entity.Voucher{
			Code:            code,
			OrderID:         order.ID,
			RowIndex:        row.Index,
			RecipientName:   row.Recipient.Name,
			RecipientMobile: row.Recipient.Mobile,
			RecipientIDType: row.Recipient.IDType,
			RecipientGovtID: row.Recipient.GovtID,
			RecipientEmpID:  row.Recipient.EmpID,
			Status:          entity.VoucherStatusCreated,
			IssuerID:        order.CreatedBy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		created, err := s.vouchers.Create(ctx, v)
		if err != nil {
			return fmt.Errorf("row %d: %w", row.Line, err)
		}
		if created {
			return nil
		}

		_, err = s.vouchers.GetByRow(ctx, order.ID, row.Index)
		if err == nil {
			return nil
		}
		if !errors.Is(err, voucherrepo.ErrNotFound) {
			return fmt.Errorf("row %d: %w", row.Line, err)
		}
	}
	return fmt.Errorf("row %d: no unique voucher code after %d attempts", row.Line, maxCodeAttempts)
}
