package order

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const (
	outcomeDelivered = "delivered"
	outcomeTransient = "transient"
	outcomePermanent = "permanent"
	outcomeTimeout   = "timeout"
	outcomeSkipped   = "skipped"
)

type dispatchMetrics struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func newDispatchMetrics(logger *zap.Logger) dispatchMetrics {
	meter := otel.Meter("github.com/Additional-Code/allot/service/order")

	attempts, err := meter.Int64Counter("allot.dispatch.attempts",
		metric.WithDescription("Notification attempts by outcome."),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("dispatch attempts counter unavailable", zap.Error(err))
		attempts = noop.Int64Counter{}
	}

	duration, err := meter.Float64Histogram("allot.dispatch.pass.duration",
		metric.WithDescription("Duration of one dispatch pass over an order."),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("dispatch duration histogram unavailable", zap.Error(err))
		duration = noop.Float64Histogram{}
	}

	return dispatchMetrics{attempts: attempts, duration: duration}
}

func (m dispatchMetrics) attempt(ctx context.Context, outcome string) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m dispatchMetrics) pass(ctx context.Context, start time.Time, completed bool) {
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.Bool("completed", completed)))
}
