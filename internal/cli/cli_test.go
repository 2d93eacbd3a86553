package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Additional-Code/allot/internal/entity"
	ordersvc "github.com/Additional-Code/allot/internal/service/order"
)

type fakeOrders struct {
	ingested  string
	principal int64
	ids       []int64
	sweepErr  error
}

func (f *fakeOrders) Ingest(_ context.Context, file io.Reader, createdBy int64) (*entity.Order, error) {
	body, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	f.ingested = string(body)
	f.principal = createdBy
	return &entity.Order{ID: 11, Status: entity.OrderStatusCreated, VoucherCount: 1, CreatedBy: createdBy}, nil
}

func (f *fakeOrders) Materialize(_ context.Context, id int64) (*entity.Order, error) {
	f.ids = append(f.ids, id)
	return &entity.Order{ID: id, Status: entity.OrderStatusProcessing}, nil
}

func (f *fakeOrders) ProcessOrder(_ context.Context, id int64) (*ordersvc.DispatchReport, error) {
	f.ids = append(f.ids, id)
	return &ordersvc.DispatchReport{OrderID: id, Status: entity.OrderStatusProcessed, Attempted: 2, Delivered: 2, Completed: true}, nil
}

func (f *fakeOrders) Sweep(context.Context) ([]ordersvc.DispatchReport, error) {
	return []ordersvc.DispatchReport{{OrderID: 3, Status: entity.OrderStatusProcessing, Failed: 1}}, f.sweepErr
}

func execute(t *testing.T, svc *fakeOrders, args ...string) (string, error) {
	t.Helper()
	run := func(ctx context.Context, fn func(context.Context, OrderService) error) error {
		return fn(ctx, svc)
	}
	cmd := newOrderCmd(run)
	cmd.SilenceUsage = true // mirrors the root command's setting
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOrderIngestReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	body := "Alice,9123456780,AADHAAR,G1,E1\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	svc := &fakeOrders{}
	out, err := execute(t, svc, "ingest", path, "--principal", "42")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if svc.ingested != body || svc.principal != 42 {
		t.Fatalf("service saw body=%q principal=%d", svc.ingested, svc.principal)
	}

	var order entity.Order
	if err := json.Unmarshal([]byte(out), &order); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if order.ID != 11 {
		t.Fatalf("order id: want=11 got=%d", order.ID)
	}
}

func TestOrderIngestMissingFile(t *testing.T) {
	_, err := execute(t, &fakeOrders{}, "ingest", filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil || !strings.Contains(err.Error(), "open batch file") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestOrderMaterializeAndDispatch(t *testing.T) {
	svc := &fakeOrders{}
	if _, err := execute(t, svc, "materialize", "5"); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	out, err := execute(t, svc, "dispatch", "5")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(svc.ids) != 2 || svc.ids[0] != 5 || svc.ids[1] != 5 {
		t.Fatalf("ids: got=%v", svc.ids)
	}
	var report ordersvc.DispatchReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.Completed || report.Delivered != 2 {
		t.Fatalf("report: %+v", report)
	}
}

func TestOrderRejectsBadID(t *testing.T) {
	for _, arg := range []string{"abc", "0", "-3"} {
		if _, err := execute(t, &fakeOrders{}, "dispatch", arg); err == nil {
			t.Fatalf("expected error for id %q", arg)
		}
	}
}

func TestOrderSweepPrintsReportsOnError(t *testing.T) {
	svc := &fakeOrders{sweepErr: errors.New("order 4 failed")}
	out, err := execute(t, svc, "sweep")
	if err == nil {
		t.Fatalf("expected sweep error")
	}
	var reports []ordersvc.DispatchReport
	if decodeErr := json.Unmarshal([]byte(out), &reports); decodeErr != nil {
		t.Fatalf("decode reports: %v", decodeErr)
	}
	if len(reports) != 1 || reports[0].OrderID != 3 {
		t.Fatalf("reports: %+v", reports)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{
		{"start"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"seed"},
		{"order", "ingest"},
		{"order", "sweep"},
		{"worker", "run"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not found: %v", path, err)
		}
	}
}
