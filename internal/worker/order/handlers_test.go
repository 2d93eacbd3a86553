package order

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/messaging"
	ordersvc "github.com/Additional-Code/allot/internal/service/order"
	"github.com/Additional-Code/allot/pkg/errorbank"
)

type stubProcessor struct {
	materialized []int64
	dispatched   []int64
	err          error
}

func (s *stubProcessor) Materialize(_ context.Context, id int64) (*entity.Order, error) {
	s.materialized = append(s.materialized, id)
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Order{ID: id, Status: entity.OrderStatusProcessing}, nil
}

func (s *stubProcessor) ProcessOrder(_ context.Context, id int64) (*ordersvc.DispatchReport, error) {
	s.dispatched = append(s.dispatched, id)
	if s.err != nil {
		return nil, s.err
	}
	return &ordersvc.DispatchReport{OrderID: id, Completed: true}, nil
}

func testConfig() config.Config {
	return config.Config{Messaging: config.Messaging{Topics: config.Topics{
		OrderIngested: "orders.ingested",
		OrderAllotted: "orders.allotted",
	}}}
}

func message(t *testing.T, topic string, event any) messaging.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return messaging.Message{Topic: topic, Value: payload}
}

func TestIngestedHandlerMaterializes(t *testing.T) {
	p := &stubProcessor{}
	reg := NewOrderIngestedHandler(p, zap.NewNop(), testConfig())
	if reg.Topic != "orders.ingested" {
		t.Fatalf("topic: want=%q got=%q", "orders.ingested", reg.Topic)
	}

	msg := message(t, reg.Topic, ordersvc.OrderIngestedEvent{ID: 11})
	if err := reg.Handler(context.Background(), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(p.materialized) != 1 || p.materialized[0] != 11 {
		t.Fatalf("materialized: got=%v", p.materialized)
	}
}

func TestAllottedHandlerDispatches(t *testing.T) {
	p := &stubProcessor{}
	reg := NewOrderAllottedHandler(p, zap.NewNop(), testConfig())
	if reg.Topic != "orders.allotted" {
		t.Fatalf("topic: want=%q got=%q", "orders.allotted", reg.Topic)
	}

	msg := message(t, reg.Topic, ordersvc.OrderAllottedEvent{ID: 12, Allotted: 2})
	if err := reg.Handler(context.Background(), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(p.dispatched) != 1 || p.dispatched[0] != 12 {
		t.Fatalf("dispatched: got=%v", p.dispatched)
	}
}

func TestHandlersSettleErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		redeliver bool
	}{
		{name: "not found", err: errorbank.NotFound("order not found")},
		{name: "invalid row", err: errorbank.Unprocessable("batch contains an invalid row")},
		{name: "storage down", err: errorbank.Unavailable("failed to open stored batch file"), redeliver: true},
		{name: "database", err: errors.New("connection reset"), redeliver: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubProcessor{err: tc.err}
			reg := NewOrderIngestedHandler(p, zap.NewNop(), testConfig())

			err := reg.Handler(context.Background(), message(t, reg.Topic, ordersvc.OrderIngestedEvent{ID: 3}))
			if tc.redeliver && err == nil {
				t.Fatalf("expected error so the message is redelivered")
			}
			if !tc.redeliver && err != nil {
				t.Fatalf("expected message to be committed, got=%v", err)
			}
		})
	}
}

func TestHandlerDropsUndecodablePayload(t *testing.T) {
	p := &stubProcessor{}
	reg := NewOrderAllottedHandler(p, zap.NewNop(), testConfig())

	err := reg.Handler(context.Background(), messaging.Message{Topic: reg.Topic, Value: []byte("{")})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(p.dispatched) != 0 {
		t.Fatalf("dispatched: want none got=%v", p.dispatched)
	}
}
