package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/messaging"
)

// replayClient hands a fixed set of messages to the handler once, then blocks.
type replayClient struct {
	mu       sync.Mutex
	messages []messaging.Message
}

func (c *replayClient) Publish(context.Context, string, []byte, []byte) error { return nil }

func (c *replayClient) Consume(ctx context.Context, handler messaging.Handler) error {
	c.mu.Lock()
	pending := c.messages
	c.messages = nil
	c.mu.Unlock()

	for _, msg := range pending {
		_ = handler(ctx, msg)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *replayClient) Topics() []string { return []string{"a", "b"} }

func TestEngineRoutesByTopic(t *testing.T) {
	client := &replayClient{messages: []messaging.Message{
		{Topic: "a", Value: []byte("1")},
		{Topic: "b", Value: []byte("2")},
		{Topic: "unknown", Value: []byte("3")},
	}}

	var mu sync.Mutex
	got := make(map[string]string)
	record := func(topic string) messaging.Handler {
		return func(_ context.Context, msg messaging.Message) error {
			mu.Lock()
			defer mu.Unlock()
			got[topic] = string(msg.Value)
			return nil
		}
	}

	cfg := config.Config{Messaging: config.Messaging{
		Enabled: true,
		Workers: config.Worker{Enabled: true, Concurrency: 1},
	}}
	engine := NewEngine(Params{
		Client: client,
		Logger: zap.NewNop(),
		Config: cfg,
		Registrations: []HandlerRegistration{
			{Topic: "a", Handler: record("a")},
			{Topic: "b", Handler: record("b")},
			{Topic: "", Handler: record("empty")},
		},
	})

	if err := engine.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := engine.stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("routing: got=%v", got)
	}
	if _, ok := got["empty"]; ok {
		t.Fatalf("registration without topic should be ignored")
	}
}

func TestEngineDisabled(t *testing.T) {
	engine := NewEngine(Params{
		Client: &replayClient{},
		Logger: zap.NewNop(),
		Config: config.Config{},
	})
	if err := engine.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if engine.cancel != nil {
		t.Fatalf("disabled engine should not start workers")
	}
	if err := engine.stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestEngineHandleRetriesAndRecovers(t *testing.T) {
	cfg := config.Config{Messaging: config.Messaging{
		Workers: config.Worker{PollInterval: time.Millisecond, MaxRetries: 2},
	}}

	calls := 0
	flaky := func(context.Context, messaging.Message) error {
		calls++
		if calls == 1 {
			panic("bad payload")
		}
		if calls == 2 {
			return errors.New("store unavailable")
		}
		return nil
	}

	engine := NewEngine(Params{
		Client:        &replayClient{},
		Logger:        zap.NewNop(),
		Config:        cfg,
		Registrations: []HandlerRegistration{{Topic: "a", Handler: flaky}},
	})

	if err := engine.handle(context.Background(), 0, messaging.Message{Topic: "a"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
}

func TestEngineHandleGivesUp(t *testing.T) {
	cfg := config.Config{Messaging: config.Messaging{
		Workers: config.Worker{PollInterval: time.Millisecond, MaxRetries: 1},
	}}

	calls := 0
	failing := func(context.Context, messaging.Message) error {
		calls++
		return errors.New("gateway down")
	}

	engine := NewEngine(Params{
		Client:        &replayClient{},
		Logger:        zap.NewNop(),
		Config:        cfg,
		Registrations: []HandlerRegistration{{Topic: "a", Handler: failing}},
	})

	err := engine.handle(context.Background(), 0, messaging.Message{Topic: "a"})
	if err == nil || err.Error() != "gateway down" {
		t.Fatalf("handle: want last error got=%v", err)
	}
	if calls != 2 {
		t.Fatalf("calls: want=2 got=%d", calls)
	}

	if err := engine.handle(context.Background(), 0, messaging.Message{Topic: "missing"}); err != nil {
		t.Fatalf("unrouted topic should be dropped, got %v", err)
	}
}
