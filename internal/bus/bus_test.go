package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/turnstile/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, domain.TopicTapDecided, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicTapDecided, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.Topic != domain.TopicTapDecided {
				t.Errorf("expected topic %s, got %s", domain.TopicTapDecided, msg.Topic)
			}
			if msg.ID == "" {
				t.Error("expected message ID")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var decided, rejected atomic.Int32

		bus.Subscribe(ctx, "isolation.decided", func(ctx context.Context, msg *domain.Message) error {
			decided.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "isolation.rejected", func(ctx context.Context, msg *domain.Message) error {
			rejected.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.decided", []byte("data"))
		time.Sleep(50 * time.Millisecond)

		if decided.Load() != 1 {
			t.Errorf("expected 1 message on decided, got %d", decided.Load())
		}
		if rejected.Load() != 0 {
			t.Errorf("expected 0 messages on rejected, got %d", rejected.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		// Should still be 1 after unsubscribe
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var count atomic.Int32

		bus.Subscribe(ctx, "error.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return errors.New("handler failed")
		})

		bus.Publish(ctx, "error.topic", []byte("one"))
		bus.Publish(ctx, "error.topic", []byte("two"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 2 {
			t.Errorf("expected 2 deliveries, got %d", count.Load())
		}
	})

	t.Run("CarriesTraceID", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		bus.Subscribe(ctx, "trace.topic", func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})

		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
		tctx := trace.ContextWithSpanContext(ctx, sc)

		bus.Publish(tctx, "trace.topic", []byte("traced"))

		select {
		case msg := <-received:
			if msg.Metadata["trace_id"] != traceID.String() {
				t.Errorf("expected trace_id %s, got %q", traceID, msg.Metadata["trace_id"])
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusFullBufferDrops(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	var count atomic.Int32

	bus.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-release
		count.Add(1)
		return nil
	})

	// Publish never blocks, even with a stalled subscriber.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(ctx, "slow.topic", []byte("msg"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	close(release)
	time.Sleep(50 * time.Millisecond)

	if n := count.Load(); n < 1 || n > 2 {
		t.Errorf("expected 1 or 2 deliveries with buffer size 1, got %d", n)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	// Operations should fail after close
	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}

	if _, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	// Second close is a no-op.
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		_, ok := bus.(*ChannelBus)
		if !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type: "kafka",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	// Publish many messages
	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	// Wait for all messages
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}

func TestChannelBusQueueGroup(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 20

	var (
		first, second, plain atomic.Int32
		wg                   sync.WaitGroup
	)
	wg.Add(messageCount * 2)

	member := func(n *atomic.Int32) domain.MessageHandler {
		return func(ctx context.Context, msg *domain.Message) error {
			n.Add(1)
			wg.Done()
			return nil
		}
	}
	if _, err := bus.QueueSubscribe(ctx, "work.topic", "workers", member(&first)); err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	if _, err := bus.QueueSubscribe(ctx, "work.topic", "workers", member(&second)); err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	bus.Subscribe(ctx, "work.topic", member(&plain))

	for i := 0; i < messageCount; i++ {
		if err := bus.Publish(ctx, "work.topic", []byte("msg")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for deliveries")
	}
	// Surplus deliveries would land after the wait group drained.
	time.Sleep(20 * time.Millisecond)

	if got := first.Load() + second.Load(); got != messageCount {
		t.Errorf("expected each message once across the group, got %d deliveries", got)
	}
	if first.Load() == 0 || second.Load() == 0 {
		t.Errorf("expected both members to receive work, got %d and %d", first.Load(), second.Load())
	}
	if plain.Load() != messageCount {
		t.Errorf("expected plain subscriber to see every message, got %d", plain.Load())
	}

	t.Run("RequiresGroup", func(t *testing.T) {
		if _, err := bus.QueueSubscribe(ctx, "work.topic", "", member(&first)); err == nil {
			t.Error("expected error without a queue group")
		}
	})
}

func TestChannelBusQueueGroupFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	bus.QueueSubscribe(ctx, "work.topic", "workers", func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	if err := bus.Publish(ctx, "work.topic", []byte("1")); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}

	if err := bus.Publish(ctx, "work.topic", []byte("2")); err != nil {
		t.Fatalf("buffered publish failed: %v", err)
	}

	err := bus.Publish(ctx, "work.topic", []byte("3"))
	if !errors.Is(err, domain.ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}
