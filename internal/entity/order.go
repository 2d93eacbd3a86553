package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// OrderStatus tracks an order through ingestion, materialization and dispatch.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusProcessed  OrderStatus = "PROCESSED"
)

func (s OrderStatus) String() string { return string(s) }

// IsValid reports whether s is a known order status.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusProcessing, OrderStatusProcessed:
		return true
	}
	return false
}

// CanAdvanceTo reports whether moving from s to next is a single forward step.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	switch s {
	case OrderStatusCreated:
		return next == OrderStatusProcessing
	case OrderStatusProcessing:
		return next == OrderStatusProcessed
	}
	return false
}

// Order represents one uploaded recipient batch stored in the relational database.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID               int64       `bun:",pk,autoincrement" json:"id"`
	ExternalRef      string      `bun:"external_ref,notnull,unique" json:"external_ref"`
	Status           OrderStatus `bun:"status,notnull" json:"status"`
	VoucherCount     int         `bun:"voucher_count,notnull" json:"voucher_count"`
	ArtifactLocation string      `bun:"artifact_location,notnull" json:"artifact_location"`
	CreatedBy        int64       `bun:"created_by,notnull" json:"created_by"`
	CreatedAt        time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time   `bun:"updated_at,nullzero" json:"updated_at"`
}
