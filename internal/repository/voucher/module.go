package voucher

import "go.uber.org/fx"

// Module provides the voucher repository to Fx.
var Module = fx.Provide(NewRepository)
