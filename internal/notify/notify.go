// Package notify delivers voucher notifications to recipients.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/entity"
)

// Outcome classifies a delivery attempt.
type Outcome int

const (
	// Delivered means the gateway accepted the notification.
	Delivered Outcome = iota
	// Transient failures may succeed on a later dispatch pass.
	Transient
	// Permanent failures will not succeed without operator action.
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports the outcome of one delivery attempt.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Sent is the result of a successful delivery.
func Sent() Result { return Result{Outcome: Delivered} }

// Retry builds a transient failure result.
func Retry(reason string) Result { return Result{Outcome: Transient, Reason: reason} }

// Reject builds a permanent failure result.
func Reject(reason string) Result { return Result{Outcome: Permanent, Reason: reason} }

// Notifier sends one voucher to its recipient. A returned error is treated
// like a transient failure by callers.
type Notifier interface {
	Send(ctx context.Context, voucher entity.Voucher) (Result, error)
}

// Module provides the configured notifier to Fx.
var Module = fx.Provide(NewNotifier)

// NewNotifier builds the notifier selected by configuration.
func NewNotifier(cfg config.Config, logger *zap.Logger) (Notifier, error) {
	switch cfg.Notification.Driver {
	case "sms":
		return NewSMSNotifier(cfg.Notification, logger)
	case "log":
		return NewLogNotifier(logger, cfg.Notification.Template), nil
	default:
		return nil, fmt.Errorf("unsupported notification driver: %s", cfg.Notification.Driver)
	}
}

// Render fills the message template for a voucher.
func Render(template string, voucher entity.Voucher) string {
	return strings.NewReplacer(
		"{name}", voucher.RecipientName,
		"{code}", voucher.Code,
	).Replace(template)
}
