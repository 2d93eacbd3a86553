package voucher

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/allot/internal/database"
	"github.com/Additional-Code/allot/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/allot/repository/voucher")

// ErrNotFound is returned when a voucher is missing.
var ErrNotFound = errors.New("voucher not found")

// Repository encapsulates read/write access for vouchers. All status writes
// are conditional on the persisted status so concurrent passes cannot
// double-apply a transition.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Create inserts a voucher unless one already exists for the same order row
// or code. It reports whether the insert happened.
func (r *Repository) Create(ctx context.Context, v *entity.Voucher) (bool, error) {
	if v == nil {
		return false, errors.New("nil voucher")
	}
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.Create", trace.WithAttributes(
		attribute.Int64("order.id", v.OrderID),
		attribute.Int("voucher.row", v.RowIndex),
	))
	defer span.End()

	res, err := r.writer.NewInsert().Model(v).Ignore().Exec(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		// Dialects with RETURNING scan zero rows when the insert was ignored.
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetByID fetches a voucher by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Voucher, error) {
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.GetByID", trace.WithAttributes(attribute.Int64("voucher.id", id)))
	defer span.End()

	return r.scanOne(ctx, span, r.writer.NewSelect().Where("id = ?", id))
}

// GetByRow fetches the voucher materialized from a given artifact row.
func (r *Repository) GetByRow(ctx context.Context, orderID int64, rowIndex int) (*entity.Voucher, error) {
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.GetByRow", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int("voucher.row", rowIndex),
	))
	defer span.End()

	return r.scanOne(ctx, span, r.writer.NewSelect().Where("order_id = ?", orderID).Where("row_index = ?", rowIndex))
}

func (r *Repository) scanOne(ctx context.Context, span trace.Span, q *bun.SelectQuery) (*entity.Voucher, error) {
	v := new(entity.Voucher)
	err := q.Model(v).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return v, nil
}

// ListByOrder returns an order's vouchers in row order, optionally filtered
// by status. It reads from the writer so dispatch sees the latest statuses.
func (r *Repository) ListByOrder(ctx context.Context, orderID int64, statuses ...entity.VoucherStatus) ([]entity.Voucher, error) {
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.ListByOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	return r.list(ctx, span, r.writer, orderID, statuses)
}

// ListByOrderReplica is ListByOrder served by the reader pool. Results may
// lag behind recent writes.
func (r *Repository) ListByOrderReplica(ctx context.Context, orderID int64, statuses ...entity.VoucherStatus) ([]entity.Voucher, error) {
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.ListByOrderReplica", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	return r.list(ctx, span, r.reader, orderID, statuses)
}

func (r *Repository) list(ctx context.Context, span trace.Span, db *bun.DB, orderID int64, statuses []entity.VoucherStatus) ([]entity.Voucher, error) {
	var vouchers []entity.Voucher
	q := db.NewSelect().Model(&vouchers).Where("order_id = ?", orderID).Order("row_index ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return vouchers, nil
}

// BulkUpdateStatus moves every voucher of an order that is in from to to and
// returns the number of vouchers changed.
func (r *Repository) BulkUpdateStatus(ctx context.Context, orderID int64, from, to entity.VoucherStatus) (int64, error) {
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.BulkUpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("voucher.from", from.String()),
		attribute.String("voucher.to", to.String()),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().
		Model((*entity.Voucher)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", orderID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateStatus moves one voucher from one status to another when its
// persisted status still equals from.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to entity.VoucherStatus) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.UpdateStatus", trace.WithAttributes(
		attribute.Int64("voucher.id", id),
		attribute.String("voucher.to", to.String()),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().
		Model((*entity.Voucher)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementRetry records a failed delivery on an ALLOTTED voucher: the retry
// counter grows by one, the reason replaces the last error, and the voucher
// becomes exhausted when mark says so.
func (r *Repository) IncrementRetry(ctx context.Context, id int64, mark entity.RetryMark) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "VoucherRepository.IncrementRetry", trace.WithAttributes(attribute.Int64("voucher.id", id)))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Voucher)(nil))
	// exhausted is assigned before retry_count so MySQL, which evaluates
	// assignments left to right, compares against the old counter too.
	switch {
	case mark.Permanent:
		q = q.Set("exhausted = ?", true)
	case mark.MaxAttempts > 0:
		q = q.Set("exhausted = CASE WHEN retry_count + 1 >= ? THEN ? ELSE exhausted END", mark.MaxAttempts, true)
	}
	res, err := q.
		Set("retry_count = retry_count + 1").
		Set("last_error = ?", mark.Reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", entity.VoucherStatusAllotted).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
