package dto

import "time"

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID               int64     `json:"id"`
	ExternalRef      string    `json:"external_ref"`
	Status           string    `json:"status"`
	VoucherCount     int       `json:"voucher_count"`
	ArtifactLocation string    `json:"artifact_location"`
	CreatedBy        int64     `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// VoucherResponse represents one recipient voucher of an order.
type VoucherResponse struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	Row             int       `json:"row"`
	RecipientName   string    `json:"recipient_name"`
	RecipientMobile string    `json:"recipient_mobile"`
	RecipientIDType string    `json:"recipient_id_type"`
	Status          string    `json:"status"`
	RetryCount      int       `json:"retry_count"`
	LastError       string    `json:"last_error,omitempty"`
	Exhausted       bool      `json:"exhausted"`
	IssuerID        int64     `json:"issuer_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DispatchResponse summarizes one dispatch pass.
type DispatchResponse struct {
	OrderID   int64  `json:"order_id"`
	Status    string `json:"status"`
	Attempted int    `json:"attempted"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Completed bool   `json:"completed"`
}
