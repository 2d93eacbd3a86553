package seeder

import (
	"context"
	"io"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/entity"
	ordersvc "github.com/Additional-Code/allot/internal/service/order"
)

// DemoPrincipal owns the seeded demo order.
const DemoPrincipal int64 = 1

// DemoBatch is a two recipient batch used for local setups.
const DemoBatch = `name,mobileNumber,idType,govtIdNumber,empId
Alice,9123456780,AADHAAR,G1,E1
Bob,9123456781,PAN,G2,E2
`

// Ingester creates orders from batch files.
type Ingester interface {
	Ingest(ctx context.Context, file io.Reader, createdBy int64) (*entity.Order, error)
	Materialize(ctx context.Context, id int64) (*entity.Order, error)
}

// Module provides the seeder to Fx.
var Module = fx.Provide(
	func(s *ordersvc.Service) Ingester { return s },
	New,
)

// Seeder performs seeding for local/dev setups.
type Seeder struct {
	svc    Ingester
	logger *zap.Logger
}

// New constructs a Seeder that goes through the order service.
func New(svc Ingester, logger *zap.Logger) *Seeder {
	return &Seeder{svc: svc, logger: logger}
}

// Orders ingests the demo batch and, when materialize is set, allots its
// vouchers so the order is ready for dispatch.
func (s *Seeder) Orders(ctx context.Context, materialize bool) (*entity.Order, error) {
	order, err := s.svc.Ingest(ctx, strings.NewReader(DemoBatch), DemoPrincipal)
	if err != nil {
		return nil, err
	}
	if materialize {
		if order, err = s.svc.Materialize(ctx, order.ID); err != nil {
			return nil, err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded demo order",
			zap.Int64("id", order.ID),
			zap.String("status", order.Status.String()),
			zap.Int("vouchers", order.VoucherCount),
		)
	}
	return order, nil
}
