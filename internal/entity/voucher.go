package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// VoucherStatus tracks a single recipient's delivery state.
type VoucherStatus string

const (
	VoucherStatusCreated   VoucherStatus = "CREATED"
	VoucherStatusAllotted  VoucherStatus = "ALLOTTED"
	VoucherStatusProcessed VoucherStatus = "PROCESSED"
)

func (s VoucherStatus) String() string { return string(s) }

// IsValid reports whether s is a known voucher status.
func (s VoucherStatus) IsValid() bool {
	switch s {
	case VoucherStatusCreated, VoucherStatusAllotted, VoucherStatusProcessed:
		return true
	}
	return false
}

// CanAdvanceTo reports whether moving from s to next is a single forward step.
// Retries keep a voucher ALLOTTED and are not status transitions.
func (s VoucherStatus) CanAdvanceTo(next VoucherStatus) bool {
	switch s {
	case VoucherStatusCreated:
		return next == VoucherStatusAllotted
	case VoucherStatusAllotted:
		return next == VoucherStatusProcessed
	}
	return false
}

// Voucher is one recipient row of an order together with its delivery bookkeeping.
type Voucher struct {
	bun.BaseModel `bun:"table:vouchers"`

	ID              int64         `bun:",pk,autoincrement" json:"id"`
	Code            string        `bun:"code,notnull,unique" json:"code"`
	OrderID         int64         `bun:"order_id,notnull" json:"order_id"`
	RowIndex        int           `bun:"row_index,notnull" json:"row_index"`
	RecipientName   string        `bun:"recipient_name,notnull" json:"recipient_name"`
	RecipientMobile string        `bun:"recipient_mobile,notnull" json:"recipient_mobile"`
	RecipientIDType IDType        `bun:"recipient_id_type,notnull" json:"recipient_id_type"`
	RecipientGovtID string        `bun:"recipient_govt_id,notnull" json:"recipient_govt_id"`
	RecipientEmpID  string        `bun:"recipient_emp_id,notnull" json:"recipient_emp_id"`
	Status          VoucherStatus `bun:"status,notnull" json:"status"`
	RetryCount      int           `bun:"retry_count,notnull,default:0" json:"retry_count"`
	LastError       *string       `bun:"last_error" json:"last_error,omitempty"`
	Exhausted       bool          `bun:"exhausted,notnull,default:false" json:"exhausted"`
	IssuerID        int64         `bun:"issuer_id,notnull" json:"issuer_id"`
	CreatedAt       time.Time     `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time     `bun:"updated_at,nullzero" json:"updated_at"`
}

// RetryMark describes a failed delivery attempt to be recorded on a voucher.
type RetryMark struct {
	Reason string
	// Permanent marks the voucher exhausted regardless of the attempt count.
	Permanent bool
	// MaxAttempts exhausts the voucher once its retry count reaches the
	// ceiling. Zero disables the ceiling.
	MaxAttempts int
}

// Exhausts reports whether recording this failure on a voucher that has
// already failed retryCount times leaves it exhausted.
func (m RetryMark) Exhausts(retryCount int) bool {
	if m.Permanent {
		return true
	}
	return m.MaxAttempts > 0 && retryCount+1 >= m.MaxAttempts
}
