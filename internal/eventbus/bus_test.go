package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishNextOrdering(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	if err := b.Publish(ctx, Event{Kind: KindUserMessage, Seq: 0}); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	if err := b.Publish(ctx, Event{Kind: KindStream, Content: "a"}); err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	ev, ok := b.Next(ctx)
	if !ok || ev.Kind != KindUserMessage {
		t.Fatalf("want KindUserMessage first, got %+v ok=%v", ev, ok)
	}
	ev, ok = b.Next(ctx)
	if !ok || ev.Kind != KindStream || ev.Content != "a" {
		t.Fatalf("want KindStream second, got %+v ok=%v", ev, ok)
	}
}

func TestCloseEnqueuesDoneAndRejectsPublish(t *testing.T) {
	b := New(4)
	ctx := context.Background()
	b.Close()

	ev, ok := b.Next(ctx)
	if !ok || ev.Kind != KindDone {
		t.Fatalf("want KindDone after close, got %+v ok=%v", ev, ok)
	}

	if err := b.Publish(ctx, Event{Kind: KindStream}); err != ErrBusClosed {
		t.Fatalf("want ErrBusClosed, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(4)
	b.Close()
	b.Close() // must not panic or double-enqueue

	ctx := context.Background()
	ev, ok := b.Next(ctx)
	if !ok || ev.Kind != KindDone {
		t.Fatalf("want a single KindDone, got %+v ok=%v", ev, ok)
	}

	select {
	case extra := <-b.events:
		t.Fatalf("unexpected second event after idempotent close: %+v", extra)
	default:
	}
}

func TestNextReturnsFalseOnContextDone(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := b.Next(ctx)
	if ok {
		t.Fatal("want ok=false when context is done before any event arrives")
	}
}

func TestWithBusAndFromContext(t *testing.T) {
	b := New(4)
	ctx := WithBus(context.Background(), b)

	got, ok := FromContext(ctx)
	if !ok || got != b {
		t.Fatalf("want the same bus back, got %+v ok=%v", got, ok)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("want ok=false for a context with no bus attached")
	}
}

func TestEmitSilentlyDiscardsWithoutBus(t *testing.T) {
	// Must not panic in offline execution (no ambient bus).
	Emit(context.Background(), Event{Kind: KindStream, Content: "ignored"})
}

func TestEmitPublishesOnAmbientBus(t *testing.T) {
	b := New(4)
	ctx := WithBus(context.Background(), b)

	Emit(ctx, Event{Kind: KindStream, Content: "delta"})

	ev, ok := b.Next(context.Background())
	if !ok || ev.Kind != KindStream || ev.Content != "delta" {
		t.Fatalf("want the emitted stream event, got %+v ok=%v", ev, ok)
	}
}
