package seeder

import (
	"context"
	"io"
	"testing"

	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/batch"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/validation"
)

type recordingIngester struct {
	body        []byte
	principal   int64
	materialize int
}

func (r *recordingIngester) Ingest(_ context.Context, file io.Reader, createdBy int64) (*entity.Order, error) {
	body, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	r.body = body
	r.principal = createdBy
	return &entity.Order{ID: 5, Status: entity.OrderStatusCreated, VoucherCount: 2}, nil
}

func (r *recordingIngester) Materialize(_ context.Context, id int64) (*entity.Order, error) {
	r.materialize++
	return &entity.Order{ID: id, Status: entity.OrderStatusProcessing, VoucherCount: 2}, nil
}

func TestDemoBatchIsValid(t *testing.T) {
	rows, err := batch.ParseBytes([]byte(DemoBatch), batch.Options{SkipHeader: true})
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if _, err := validation.ValidateRows(rows); err != nil {
		t.Fatalf("demo batch should validate: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: want=2 got=%d", len(rows))
	}
}

func TestOrdersIngestsAndMaterializes(t *testing.T) {
	ing := &recordingIngester{}
	s := New(ing, zap.NewNop())

	order, err := s.Orders(context.Background(), true)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if ing.principal != DemoPrincipal || string(ing.body) != DemoBatch {
		t.Fatalf("ingest input: principal=%d body=%q", ing.principal, ing.body)
	}
	if ing.materialize != 1 || order.Status != entity.OrderStatusProcessing {
		t.Fatalf("materialize: calls=%d status=%s", ing.materialize, order.Status)
	}

	if _, err := s.Orders(context.Background(), false); err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if ing.materialize != 1 {
		t.Fatalf("materialize should be skipped: calls=%d", ing.materialize)
	}
}
