package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/entity"
)

// LogNotifier writes notifications to the log instead of a gateway.
type LogNotifier struct {
	logger   *zap.Logger
	template string
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger, template string) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger, template: template}
}

func (n *LogNotifier) Send(ctx context.Context, voucher entity.Voucher) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	n.logger.Info("voucher notification",
		zap.Int64("voucher.id", voucher.ID),
		zap.Int64("order.id", voucher.OrderID),
		zap.String("to", voucher.RecipientMobile),
		zap.String("body", Render(n.template, voucher)),
	)
	return Sent(), nil
}
