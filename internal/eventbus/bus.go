// Package eventbus implements the per-request event bus: a bounded FIFO of
// Event plus a context-scoped ambient handle, so agent and tool middleware
// can emit lifecycle events without the bus being threaded through every call
// signature. Modeled on the context-propagation idiom in
// internal/observability/ctxlogger.go, generalized from a logger to a queue.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind tags an Event's variant. See the streaming protocol in the HTTP layer
// for how each kind serializes to the client.
type Kind string

const (
	KindUserMessage      Kind = "user_message"
	KindAgentInvoked     Kind = "agent_invoked"
	KindAgentFinished    Kind = "agent_finished"
	KindFunctionStart    Kind = "function_start"
	KindFunctionEnd      Kind = "function_end"
	KindStream           Kind = "stream"
	KindAssistantMessage Kind = "assistant_message"
	KindDone             Kind = "done"
)

// Usage mirrors the LLM client's token accounting, carried on agent_finished.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Event is the tagged record produced onto the bus. Only the fields relevant
// to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind

	// user_message / assistant_message
	Content string
	Seq     int
	Time    time.Time
	Title   string // assistant_message only, set when the conversation was just auto-titled

	// agent_invoked / agent_finished
	AgentName       string
	Model           string
	Usage           *Usage
	ExecutionTimeMS int64
	Output          any // orchestration agents only (triage/plan/replan/review/clarify/summary)

	// function_start / function_end
	FunctionName string
	Arguments    string
	Result       string

	// stream
	ExecutorID string
	StreamSeq  int
}

// ErrBusClosed is returned by Publish once Close has run.
var ErrBusClosed = errors.New("eventbus: bus is closed")

const defaultCapacity = 1024

// Bus is a bounded, single-consumer, multi-producer FIFO of Event. Publish
// blocks once the queue is full until the consumer drains it ("producers
// that would exceed capacity block until drained").
type Bus struct {
	mu     sync.RWMutex
	events chan Event
	closed bool
}

// New creates a Bus with the given capacity; capacity <= 0 uses the default
// of 1024.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{events: make(chan Event, capacity)}
}

// Publish enqueues ev, blocking if the bus is full. Returns ErrBusClosed if
// Close has already run, and ctx.Err() if ctx is done first.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close enqueues the done sentinel and rejects subsequent Publish calls with
// ErrBusClosed. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.events <- Event{Kind: KindDone}
}

// Next blocks for the next event, or returns ok=false if ctx is done first.
// The sole consumer iterates on Next until it observes KindDone.
func (b *Bus) Next(ctx context.Context) (Event, bool) {
	select {
	case ev := <-b.events:
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

type ctxKey struct{}

// WithBus attaches b to ctx as the ambient per-request handle.
func WithBus(ctx context.Context, b *Bus) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext retrieves the ambient bus, if any.
func FromContext(ctx context.Context) (*Bus, bool) {
	b, ok := ctx.Value(ctxKey{}).(*Bus)
	return b, ok
}

// Emit publishes ev on the ambient bus, silently discarding it when no bus is
// set (e.g. offline execution) or the bus has been closed — matching the
// middleware contract that it is silent absent a handle.
func Emit(ctx context.Context, ev Event) {
	b, ok := FromContext(ctx)
	if !ok {
		return
	}
	_ = b.Publish(ctx, ev)
}
