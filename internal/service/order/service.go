package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/cache"
	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/messaging"
	"github.com/Additional-Code/allot/internal/notify"
	orderrepo "github.com/Additional-Code/allot/internal/repository/order"
	"github.com/Additional-Code/allot/internal/storage"
	"github.com/Additional-Code/allot/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/allot/service/order")

// OrderRepository is the persistence surface the service needs for orders.
type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	UpdateStatus(ctx context.Context, id int64, from, to entity.OrderStatus) (bool, error)
	ListByStatus(ctx context.Context, status entity.OrderStatus, limit int) ([]entity.Order, error)
}

// VoucherRepository is the persistence surface the service needs for vouchers.
type VoucherRepository interface {
	Create(ctx context.Context, v *entity.Voucher) (bool, error)
	GetByRow(ctx context.Context, orderID int64, rowIndex int) (*entity.Voucher, error)
	ListByOrder(ctx context.Context, orderID int64, statuses ...entity.VoucherStatus) ([]entity.Voucher, error)
	ListByOrderReplica(ctx context.Context, orderID int64, statuses ...entity.VoucherStatus) ([]entity.Voucher, error)
	BulkUpdateStatus(ctx context.Context, orderID int64, from, to entity.VoucherStatus) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to entity.VoucherStatus) (bool, error)
	IncrementRetry(ctx context.Context, id int64, mark entity.RetryMark) (bool, error)
}

// Service runs the order lifecycle: ingestion, voucher materialization and
// dispatch. It never depends on transport types.
type Service struct {
	orders    OrderRepository
	vouchers  VoucherRepository
	store     storage.Store
	notifier  notify.Notifier
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	batch     config.Batch
	dispatch  config.Dispatch
	metrics   dispatchMetrics
	newCode   func() (string, error)
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topics  config.Topics
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders    OrderRepository
	Vouchers  VoucherRepository
	Store     storage.Store
	Notifier  notify.Notifier
	Cache     cache.Store
	Config    config.Config
	Logger    *zap.Logger
	Publisher messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	batchCfg := p.Config.Batch
	if batchCfg.MaterializeConcurrency <= 0 {
		batchCfg.MaterializeConcurrency = 1
	}
	dispatchCfg := p.Config.Dispatch
	if dispatchCfg.Concurrency <= 0 {
		dispatchCfg.Concurrency = 1
	}
	if dispatchCfg.AttemptTimeout <= 0 {
		dispatchCfg.AttemptTimeout = 15 * time.Second
	}

	return &Service{
		orders:    p.Orders,
		vouchers:  p.Vouchers,
		store:     p.Store,
		notifier:  p.Notifier,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topics:  p.Config.Messaging.Topics,
		},
		batch:    batchCfg,
		dispatch: dispatchCfg,
		metrics:  newDispatchMetrics(logger),
		newCode:  NewVoucherCode,
	}
}

// Get retrieves an order by id, consulting cache when available. Only
// PROCESSED orders are cached; that status is terminal, so a cached copy
// can never be overtaken by a concurrent transition.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	order, err := s.load(ctx, span, id)
	if err != nil {
		return nil, err
	}

	if err := s.storeInCache(ctx, order); err != nil {
		s.logger.Warn("orders cache write failed", zap.Int64("id", id), zap.Error(err))
	}

	return order, nil
}

// ListVouchers returns an order's vouchers in row order. An empty status
// returns every voucher.
func (s *Service) ListVouchers(ctx context.Context, orderID int64, status string) ([]entity.Voucher, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListVouchers", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("voucher.status", status),
	))
	defer span.End()

	var statuses []entity.VoucherStatus
	if status != "" {
		st := entity.VoucherStatus(status)
		if !st.IsValid() {
			return nil, errorbank.BadRequest("unknown voucher status", errorbank.WithDetail("status", status))
		}
		statuses = append(statuses, st)
	}

	if _, err := s.load(ctx, span, orderID); err != nil {
		return nil, err
	}

	vouchers, err := s.vouchers.ListByOrderReplica(ctx, orderID, statuses...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list vouchers", errorbank.WithCause(err))
	}
	return vouchers, nil
}

// load reads an order straight from the repository, bypassing the cache, so
// phase transitions always start from the persisted status.
func (s *Service) load(ctx context.Context, span trace.Span, id int64) (*entity.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, orderrepo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found", errorbank.WithDetail("id", id))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, topic string, orderID int64, event any) {
	if !s.messaging.enabled || s.publisher == nil || topic == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order event", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, topic, []byte(fmt.Sprintf("order-%d", orderID)), payload); err != nil {
		s.logger.Error("publish order event", zap.String("topic", topic), zap.Int64("id", orderID), zap.Error(err))
	}
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) error {
	if s.cache == nil || order == nil || order.Status != entity.OrderStatusProcessed {
		return nil
	}
	bytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("orders cache invalidate failed", zap.Int64("id", id), zap.Error(err))
	}
}

// OrderIngestedEvent is emitted once an uploaded batch is stored and its
// order persisted. Consumers materialize the order's vouchers.
type OrderIngestedEvent struct {
	ID           int64     `json:"id"`
	ExternalRef  string    `json:"external_ref"`
	VoucherCount int       `json:"voucher_count"`
	CreatedBy    int64     `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// OrderAllottedEvent is emitted once every voucher of an order is allotted
// and the order moved to PROCESSING. Consumers run a dispatch pass.
type OrderAllottedEvent struct {
	ID         int64     `json:"id"`
	Allotted   int       `json:"allotted"`
	AllottedAt time.Time `json:"allotted_at"`
}
