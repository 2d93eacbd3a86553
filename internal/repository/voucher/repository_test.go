package voucher_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/allot/internal/database"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/migration"
	orderrepo "github.com/Additional-Code/allot/internal/repository/order"
	"github.com/Additional-Code/allot/internal/repository/voucher"
)

func openDB(t *testing.T, name string) *bun.DB {
	t.Helper()
	db, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	mig, err := migration.NewForDB("sqlite", db, nil)
	if err != nil {
		t.Fatalf("NewForDB: %v", err)
	}
	if err := mig.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	return db
}

func setup(t *testing.T) (*orderrepo.Repository, *voucher.Repository) {
	t.Helper()
	db := openDB(t, t.Name())
	conns := &database.Connections{Driver: "sqlite", Writer: db, Reader: db}
	return orderrepo.NewRepository(conns), voucher.NewRepository(conns)
}

func newOrder(t *testing.T, orders *orderrepo.Repository) *entity.Order {
	t.Helper()
	order := &entity.Order{
		ExternalRef:      "ref-" + t.Name(),
		Status:           entity.OrderStatusCreated,
		VoucherCount:     2,
		ArtifactLocation: "orders/ref.csv",
		CreatedBy:        1,
	}
	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID == 0 {
		t.Fatalf("order id not assigned")
	}
	return order
}

func newVoucher(orderID int64, row int, code string) *entity.Voucher {
	return &entity.Voucher{
		Code:            code,
		OrderID:         orderID,
		RowIndex:        row,
		RecipientName:   "Alice",
		RecipientMobile: "+919123456780",
		RecipientIDType: entity.IDTypeAadhaar,
		RecipientGovtID: "G1",
		RecipientEmpID:  "E1",
		Status:          entity.VoucherStatusCreated,
		IssuerID:        1,
	}
}

func TestCreateIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	orders, vouchers := setup(t)
	order := newOrder(t, orders)

	created, err := vouchers.Create(ctx, newVoucher(order.ID, 0, "AAAA1111"))
	if err != nil || !created {
		t.Fatalf("Create: want=true got=%v err=%v", created, err)
	}

	created, err = vouchers.Create(ctx, newVoucher(order.ID, 0, "BBBB2222"))
	if err != nil || created {
		t.Fatalf("same row: want=false got=%v err=%v", created, err)
	}
	created, err = vouchers.Create(ctx, newVoucher(order.ID, 1, "AAAA1111"))
	if err != nil || created {
		t.Fatalf("same code: want=false got=%v err=%v", created, err)
	}

	if _, err := vouchers.GetByRow(ctx, order.ID, 1); !errors.Is(err, voucher.ErrNotFound) {
		t.Fatalf("GetByRow: want ErrNotFound got=%v", err)
	}
	got, err := vouchers.GetByRow(ctx, order.ID, 0)
	if err != nil || got.Code != "AAAA1111" {
		t.Fatalf("GetByRow: got=%+v err=%v", got, err)
	}
}

func TestStatusTransitionsAndRetries(t *testing.T) {
	ctx := context.Background()
	orders, vouchers := setup(t)
	order := newOrder(t, orders)

	for i, code := range []string{"CCCC0000", "CCCC0001"} {
		if _, err := vouchers.Create(ctx, newVoucher(order.ID, i, code)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := vouchers.BulkUpdateStatus(ctx, order.ID, entity.VoucherStatusCreated, entity.VoucherStatusAllotted)
	if err != nil || n != 2 {
		t.Fatalf("BulkUpdateStatus: want=2 got=%d err=%v", n, err)
	}
	if n, _ := vouchers.BulkUpdateStatus(ctx, order.ID, entity.VoucherStatusCreated, entity.VoucherStatusAllotted); n != 0 {
		t.Fatalf("second BulkUpdateStatus: want=0 got=%d", n)
	}

	allotted, err := vouchers.ListByOrder(ctx, order.ID, entity.VoucherStatusAllotted)
	if err != nil || len(allotted) != 2 {
		t.Fatalf("ListByOrder: want=2 got=%d err=%v", len(allotted), err)
	}
	first, second := allotted[0], allotted[1]

	mark := entity.RetryMark{Reason: "gateway down", MaxAttempts: 2}
	for i := 0; i < 2; i++ {
		if ok, err := vouchers.IncrementRetry(ctx, first.ID, mark); err != nil || !ok {
			t.Fatalf("IncrementRetry %d: got=%v err=%v", i, ok, err)
		}
	}
	got, err := vouchers.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.RetryCount != 2 || !got.Exhausted || got.LastError == nil || *got.LastError != "gateway down" {
		t.Fatalf("retry bookkeeping: %+v", got)
	}

	if ok, _ := vouchers.IncrementRetry(ctx, second.ID, entity.RetryMark{Reason: "rejected", Permanent: true}); !ok {
		t.Fatalf("permanent IncrementRetry should apply")
	}
	if got, _ := vouchers.GetByID(ctx, second.ID); !got.Exhausted || got.RetryCount != 1 {
		t.Fatalf("permanent failure: %+v", got)
	}

	ok, err := vouchers.UpdateStatus(ctx, first.ID, entity.VoucherStatusAllotted, entity.VoucherStatusProcessed)
	if err != nil || !ok {
		t.Fatalf("UpdateStatus: got=%v err=%v", ok, err)
	}
	if ok, _ := vouchers.UpdateStatus(ctx, first.ID, entity.VoucherStatusAllotted, entity.VoucherStatusProcessed); ok {
		t.Fatalf("stale UpdateStatus should lose")
	}
	if ok, _ := vouchers.IncrementRetry(ctx, first.ID, mark); ok {
		t.Fatalf("IncrementRetry on PROCESSED voucher should not apply")
	}

	all, err := vouchers.ListByOrder(ctx, order.ID)
	if err != nil || len(all) != 2 || all[0].RowIndex != 0 {
		t.Fatalf("ListByOrder unfiltered: got=%d err=%v", len(all), err)
	}
}

func TestOrderCompareAndSet(t *testing.T) {
	ctx := context.Background()
	orders, _ := setup(t)
	order := newOrder(t, orders)

	if ok, err := orders.UpdateStatus(ctx, order.ID, entity.OrderStatusProcessing, entity.OrderStatusProcessed); err != nil || ok {
		t.Fatalf("stale transition: got=%v err=%v", ok, err)
	}
	if ok, err := orders.UpdateStatus(ctx, order.ID, entity.OrderStatusCreated, entity.OrderStatusProcessing); err != nil || !ok {
		t.Fatalf("transition: got=%v err=%v", ok, err)
	}

	list, err := orders.ListByStatus(ctx, entity.OrderStatusProcessing, 10)
	if err != nil || len(list) != 1 || list[0].ID != order.ID {
		t.Fatalf("ListByStatus: got=%+v err=%v", list, err)
	}
	if _, err := orders.GetByID(ctx, order.ID+100); !errors.Is(err, orderrepo.ErrNotFound) {
		t.Fatalf("GetByID missing: want ErrNotFound got=%v", err)
	}
}

func TestListByOrderReplicaUsesReader(t *testing.T) {
	ctx := context.Background()
	conns := &database.Connections{
		Driver: "sqlite",
		Writer: openDB(t, t.Name()+"_writer"),
		Reader: openDB(t, t.Name()+"_reader"),
	}
	orders := orderrepo.NewRepository(conns)
	vouchers := voucher.NewRepository(conns)
	order := newOrder(t, orders)

	if _, err := vouchers.Create(ctx, newVoucher(order.ID, 0, "DDDD0000")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	primary, err := vouchers.ListByOrder(ctx, order.ID)
	if err != nil || len(primary) != 1 {
		t.Fatalf("ListByOrder: want=1 got=%d err=%v", len(primary), err)
	}
	// The replica has not received the write.
	replica, err := vouchers.ListByOrderReplica(ctx, order.ID)
	if err != nil || len(replica) != 0 {
		t.Fatalf("ListByOrderReplica: want=0 got=%d err=%v", len(replica), err)
	}
}
