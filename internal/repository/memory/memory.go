// Package memory holds mutex-guarded in-memory order and voucher
// repositories with the same compare-and-set semantics as the bun ones.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Additional-Code/allot/internal/entity"
	orderrepo "github.com/Additional-Code/allot/internal/repository/order"
	voucherrepo "github.com/Additional-Code/allot/internal/repository/voucher"
)

// Orders is an in-memory order repository.
type Orders struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]entity.Order
	refs   map[string]int64
}

// NewOrders returns an empty order repository.
func NewOrders() *Orders {
	return &Orders{byID: make(map[int64]entity.Order), refs: make(map[string]int64)}
}

// Create stores order and assigns its id.
func (r *Orders) Create(_ context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.refs[order.ExternalRef]; ok {
		return errors.New("duplicate external_ref")
	}
	r.nextID++
	order.ID = r.nextID
	r.byID[order.ID] = *order
	r.refs[order.ExternalRef] = order.ID
	return nil
}

// GetByID returns a copy of the stored order.
func (r *Orders) GetByID(_ context.Context, id int64) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.byID[id]
	if !ok {
		return nil, orderrepo.ErrNotFound
	}
	return &order, nil
}

// UpdateStatus moves the order to to only when its status is still from.
func (r *Orders) UpdateStatus(_ context.Context, id int64, from, to entity.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.byID[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	r.byID[id] = order
	return true, nil
}

// ListByStatus returns up to limit orders in status, oldest first.
func (r *Orders) ListByStatus(_ context.Context, status entity.OrderStatus, limit int) ([]entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.Order
	for _, order := range r.byID {
		if order.Status == status {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type rowKey struct {
	orderID  int64
	rowIndex int
}

// Vouchers is an in-memory voucher repository enforcing unique codes and one
// voucher per order row.
type Vouchers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]entity.Voucher
	codes  map[string]int64
	rows   map[rowKey]int64
}

// NewVouchers returns an empty voucher repository.
func NewVouchers() *Vouchers {
	return &Vouchers{
		byID:  make(map[int64]entity.Voucher),
		codes: make(map[string]int64),
		rows:  make(map[rowKey]int64),
	}
}

// Create inserts v unless its code or order row is taken.
func (r *Vouchers) Create(_ context.Context, v *entity.Voucher) (bool, error) {
	if v == nil {
		return false, errors.New("nil voucher")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rowKey{orderID: v.OrderID, rowIndex: v.RowIndex}
	if _, ok := r.rows[key]; ok {
		return false, nil
	}
	if _, ok := r.codes[v.Code]; ok {
		return false, nil
	}
	r.nextID++
	v.ID = r.nextID
	r.byID[v.ID] = *v
	r.codes[v.Code] = v.ID
	r.rows[key] = v.ID
	return true, nil
}

// GetByID returns a copy of the stored voucher.
func (r *Vouchers) GetByID(_ context.Context, id int64) (*entity.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[id]
	if !ok {
		return nil, voucherrepo.ErrNotFound
	}
	return &v, nil
}

// GetByRow returns the voucher created from an order row.
func (r *Vouchers) GetByRow(_ context.Context, orderID int64, rowIndex int) (*entity.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.rows[rowKey{orderID: orderID, rowIndex: rowIndex}]
	if !ok {
		return nil, voucherrepo.ErrNotFound
	}
	v := r.byID[id]
	return &v, nil
}

// ListByOrder returns an order's vouchers in row order.
func (r *Vouchers) ListByOrder(_ context.Context, orderID int64, statuses ...entity.VoucherStatus) ([]entity.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.Voucher
	for _, v := range r.byID {
		if v.OrderID == orderID && matches(v.Status, statuses) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

// ListByOrderReplica is ListByOrder; the in-memory store has no replica.
func (r *Vouchers) ListByOrderReplica(ctx context.Context, orderID int64, statuses ...entity.VoucherStatus) ([]entity.Voucher, error) {
	return r.ListByOrder(ctx, orderID, statuses...)
}

// BulkUpdateStatus moves every voucher of the order in from to to.
func (r *Vouchers) BulkUpdateStatus(_ context.Context, orderID int64, from, to entity.VoucherStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for id, v := range r.byID {
		if v.OrderID == orderID && v.Status == from {
			v.Status = to
			v.UpdatedAt = now
			r.byID[id] = v
			n++
		}
	}
	return n, nil
}

// UpdateStatus moves one voucher to to only when its status is still from.
func (r *Vouchers) UpdateStatus(_ context.Context, id int64, from, to entity.VoucherStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[id]
	if !ok || v.Status != from {
		return false, nil
	}
	v.Status = to
	v.UpdatedAt = time.Now().UTC()
	r.byID[id] = v
	return true, nil
}

// IncrementRetry records a failed delivery on an ALLOTTED voucher.
func (r *Vouchers) IncrementRetry(_ context.Context, id int64, mark entity.RetryMark) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[id]
	if !ok || v.Status != entity.VoucherStatusAllotted {
		return false, nil
	}
	if mark.Exhausts(v.RetryCount) {
		v.Exhausted = true
	}
	v.RetryCount++
	reason := mark.Reason
	v.LastError = &reason
	v.UpdatedAt = time.Now().UTC()
	r.byID[id] = v
	return true, nil
}

func matches(status entity.VoucherStatus, statuses []entity.VoucherStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
