package order

import (
	"go.uber.org/fx"

	orderrepo "github.com/Additional-Code/allot/internal/repository/order"
	voucherrepo "github.com/Additional-Code/allot/internal/repository/voucher"
)

// Module provides the order service to Fx, backed by the bun repositories.
var Module = fx.Provide(
	func(r *orderrepo.Repository) OrderRepository { return r },
	func(r *voucherrepo.Repository) VoucherRepository { return r },
	NewService,
)
