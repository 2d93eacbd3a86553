package order

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/batch"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/storage"
	"github.com/Additional-Code/allot/internal/validation"
	"github.com/Additional-Code/allot/pkg/errorbank"
)

// Ingest validates every row of an uploaded batch, stores the raw file and
// creates an order in CREATED. Any invalid row rejects the whole batch before
// anything is stored.
func (s *Service) Ingest(ctx context.Context, file io.Reader, createdBy int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Ingest", trace.WithAttributes(attribute.Int64("order.created_by", createdBy)))
	defer span.End()

	if file == nil {
		return nil, errorbank.BadRequest("batch file is required")
	}
	if createdBy <= 0 {
		return nil, errorbank.BadRequest("principal is required")
	}

	body, err := io.ReadAll(file)
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.BadRequest("failed to read batch file", errorbank.WithCause(err))
	}

	rows, err := batch.ParseBytes(body, batch.Options{SkipHeader: s.batch.SkipHeader})
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.BadRequest("malformed batch file", errorbank.WithCause(err))
	}
	if len(rows) == 0 {
		return nil, errorbank.BadRequest("batch file has no rows")
	}
	if _, err := validation.ValidateRows(rows); err != nil {
		span.SetStatus(codes.Error, "invalid row")
		return nil, rowError(err)
	}

	ref := uuid.NewString()
	key := storage.OrderFileKey(ref)
	location, err := s.store.Put(ctx, key, batch.ContentType, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage error")
		return nil, errorbank.Unavailable("failed to store batch file", errorbank.WithCause(err))
	}

	now := time.Now().UTC()
	order := &entity.Order{
		ExternalRef:      ref,
		Status:           entity.OrderStatusCreated,
		VoucherCount:     len(rows),
		ArtifactLocation: location,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		s.discardArtifact(ctx, key)
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID))

	s.logger.Info("order ingested",
		zap.Int64("id", order.ID),
		zap.String("external_ref", ref),
		zap.Int("rows", len(rows)),
	)

	s.publish(ctx, s.messaging.topics.OrderIngested, order.ID, OrderIngestedEvent{
		ID:           order.ID,
		ExternalRef:  order.ExternalRef,
		VoucherCount: order.VoucherCount,
		CreatedBy:    order.CreatedBy,
		CreatedAt:    order.CreatedAt,
	})

	return order, nil
}

// rowError maps a validation fault to an unprocessable error carrying the
// offending row.
func rowError(err error) error {
	var fault *validation.Fault
	if !errors.As(err, &fault) {
		return errorbank.Internal("failed to validate batch", errorbank.WithCause(err))
	}
	return errorbank.Unprocessable("batch contains an invalid row",
		errorbank.WithCause(err),
		errorbank.WithDetails(map[string]any{
			"line":  fault.Line,
			"field": fault.Field,
			"code":  string(fault.Code),
			"value": fault.Value,
		}),
	)
}

// discardArtifact removes an upload no order points to. A failure leaves the
// key in the log for manual cleanup.
func (s *Service) discardArtifact(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Error("orphaned batch file", zap.String("key", key), zap.Error(err))
		return
	}
	s.logger.Warn("discarded batch file of failed order", zap.String("key", key))
}
