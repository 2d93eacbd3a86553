package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/messaging"
	ordersvc "github.com/Additional-Code/allot/internal/service/order"
	"github.com/Additional-Code/allot/internal/worker"
	"github.com/Additional-Code/allot/pkg/errorbank"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/allot/worker/order")

// Processor is the slice of the order service the phase handlers drive.
type Processor interface {
	Materialize(ctx context.Context, id int64) (*entity.Order, error)
	ProcessOrder(ctx context.Context, id int64) (*ordersvc.DispatchReport, error)
}

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		func(s *ordersvc.Service) Processor { return s },
		fx.Annotate(
			NewOrderIngestedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewOrderAllottedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderIngestedHandler materializes the vouchers of every ingested order.
func NewOrderIngestedHandler(p Processor, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.materialize", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.OrderIngestedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order ingested", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		span.SetAttributes(attribute.Int64("order.id", event.ID))

		order, err := p.Materialize(ctx, event.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "materialize failed")
			return settle(logger, "materialize", event.ID, err)
		}
		logger.Info("order ingested event processed",
			zap.Int64("id", event.ID),
			zap.String("status", order.Status.String()),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Topics.OrderIngested,
		Handler: handler,
	}
}

// NewOrderAllottedHandler runs a dispatch pass for every allotted order.
func NewOrderAllottedHandler(p Processor, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.dispatch", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.OrderAllottedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order allotted", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		span.SetAttributes(attribute.Int64("order.id", event.ID))

		report, err := p.ProcessOrder(ctx, event.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
			return settle(logger, "dispatch", event.ID, err)
		}
		logger.Info("order allotted event processed",
			zap.Int64("id", event.ID),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
			zap.Bool("completed", report.Completed),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Topics.OrderAllotted,
		Handler: handler,
	}
}

// settle decides whether a failed phase should be redelivered. Errors that a
// retry cannot fix are logged and the message is committed.
func settle(logger *zap.Logger, phase string, id int64, err error) error {
	appErr := errorbank.From(err)
	switch appErr.Kind() {
	case errorbank.KindNotFound, errorbank.KindBadRequest, errorbank.KindUnprocessableEntity:
		logger.Warn("order event dropped",
			zap.String("phase", phase),
			zap.Int64("id", id),
			zap.String("kind", string(appErr.Kind())),
			zap.Error(err),
		)
		return nil
	}
	return err
}
