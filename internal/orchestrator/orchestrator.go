// Package orchestrator implements the Message Orchestrator (component K): the
// per-request glue between the durable conversation store, the Memory
// Service, and the workflow engine, multiplexing workflow events onto the
// client's server-sent event stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"weavechat/internal/eventbus"
	"weavechat/internal/memory"
	"weavechat/internal/observability"
	"weavechat/internal/persistence"
	"weavechat/internal/workflow"
	"weavechat/internal/workflow/dynamic"
	"weavechat/internal/workflow/triage"
)

// ErrInvalidInput marks a request that failed validation before any durable
// write happened.
var ErrInvalidInput = errors.New("orchestrator: invalid input")

const userFacingFailureMessage = "An error occurred while processing your request. Please try again."

// MessageRequest is the decoded body of POST /api/conversations/{id}/messages.
type MessageRequest struct {
	Message           string            `json:"message"`
	ReactMode         bool              `json:"react_mode"`
	WorkflowModel     string            `json:"workflow_model"`
	AgentModelMapping map[string]string `json:"agent_model_mapping"`
	MemoryEnabled     *bool             `json:"memory_enabled"`
}

// Config wires the Orchestrator to its backends.
type Config struct {
	Conversations persistence.ConversationStore
	Memory        *memory.Manager

	Triage  triage.Config
	Dynamic dynamic.Config

	WorkflowMaxIterations int
	EventBusCapacity      int
	WorkflowTimeout       time.Duration
}

// Orchestrator is the Message Orchestrator. One instance serves every
// conversation; per-request state lives entirely in HandleUserMessage's call
// stack and the bus it returns.
type Orchestrator struct {
	conversations persistence.ConversationStore
	memory        *memory.Manager

	triageCfg   triage.Config
	dynamicCfg  dynamic.Config
	maxIters    int
	busCapacity int
	timeout     time.Duration

	triageEngine  *workflow.Engine
	dynamicEngine *workflow.Engine

	agentNames []string
}

// New builds an Orchestrator, pre-building the default (unoverridden) triage
// and dynamic engines so the common request path never pays graph
// construction cost.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		conversations: cfg.Conversations,
		memory:        cfg.Memory,
		triageCfg:     cfg.Triage,
		dynamicCfg:    cfg.Dynamic,
		maxIters:      cfg.WorkflowMaxIterations,
		busCapacity:   cfg.EventBusCapacity,
		timeout:       cfg.WorkflowTimeout,
		agentNames:    append([]string(nil), cfg.Triage.AgentNames...),
	}
	o.triageEngine = workflow.NewEngine(triage.Build(o.triageCfg), o.maxIters)
	o.dynamicEngine = workflow.NewEngine(dynamic.Build(o.dynamicCfg), o.maxIters)
	return o
}

// AgentNames returns the addressable specialist set; react_mode does not
// currently partition the roster (see DESIGN.md), so both the triage and
// dynamic endpoints see the same set.
func (o *Orchestrator) AgentNames() []string { return o.agentNames }

// HandleUserMessage implements §4.K steps 1-3: validates the input, persists
// the user's message, reads the Memory Service's context, and allocates the
// event bus that the caller should drain (via runWorkflow, already started in
// the background) into the client's SSE stream.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, conversationID string, userID *int64, req MessageRequest) (*eventbus.Bus, error) {
	content := strings.TrimSpace(req.Message)
	if content == "" {
		return nil, fmt.Errorf("message must not be empty: %w", ErrInvalidInput)
	}

	if _, err := o.conversations.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	existing, err := o.conversations.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	userSeq := len(existing)
	now := time.Now().UTC()
	userMsg := persistence.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sequence:       userSeq,
		Role:           persistence.RoleUser,
		Content:        content,
		CreatedAt:      now,
	}
	allMessages := append(append([]persistence.Message(nil), existing...), userMsg)
	if _, err := o.conversations.SaveMessages(ctx, userID, conversationID, allMessages); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	var memCtx memory.ConversationContext
	if o.memoryEnabled(req.MemoryEnabled) && o.memory != nil {
		memCtx, err = o.memory.Read(ctx, conversationID, allMessages)
		if err != nil {
			return nil, fmt.Errorf("read memory context: %w", err)
		}
	}
	input := buildWorkflowInput(memCtx, content)

	engine := o.engineFor(req)

	bus := eventbus.New(o.busCapacity)
	runCtx := eventbus.WithBus(ctx, bus)
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, o.timeout)
		go func() { <-runCtx.Done(); cancel() }()
	}

	if err := bus.Publish(runCtx, eventbus.Event{Kind: eventbus.KindUserMessage, Content: content, Seq: userSeq, Time: now}); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("publish_user_message_failed")
	}

	go o.runWorkflow(runCtx, bus, engine, input, conversationID, userID, userSeq)

	return bus, nil
}

// engineFor selects the triage or dynamic engine per react_mode, building a
// one-off engine when the request overrides the workflow model (cheap: graph
// construction allocates a handful of executor structs, no I/O).
func (o *Orchestrator) engineFor(req MessageRequest) *workflow.Engine {
	model := strings.TrimSpace(req.WorkflowModel)
	if model == "" {
		if req.ReactMode {
			return o.dynamicEngine
		}
		return o.triageEngine
	}
	if req.ReactMode {
		cfg := o.dynamicCfg
		cfg.ClassifierModel = model
		cfg.SummaryModel = model
		return workflow.NewEngine(dynamic.Build(cfg), o.maxIters)
	}
	cfg := o.triageCfg
	cfg.ClassifierModel = model
	return workflow.NewEngine(triage.Build(cfg), o.maxIters)
}

func (o *Orchestrator) memoryEnabled(override *bool) bool {
	if override != nil {
		return *override
	}
	return true
}

// runWorkflow implements §4.K steps 4-5: drains the engine's event stream,
// translating the ones the wire protocol cares about onto the bus, then
// persists the assistant turn and fires the Memory Service trigger. It always
// runs to completion on its own (possibly already-cancelled) context so the
// turn is durably recorded even if the client has disconnected.
func (o *Orchestrator) runWorkflow(ctx context.Context, bus *eventbus.Bus, engine *workflow.Engine, input any, conversationID string, userID *int64, userSeq int) {
	log := observability.LoggerWithTrace(ctx)
	streamSeq := 0
	var finalText string
	var workflowErr error

	for ev := range engine.RunStream(ctx, input) {
		switch ev.Kind {
		case workflow.EventExecutorInvoked:
			_ = bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindAgentInvoked, AgentName: ev.ExecutorID})
		case workflow.EventExecutorCompleted:
			_ = bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindAgentFinished, AgentName: ev.ExecutorID})
		case workflow.EventExecutorFailed:
			log.Warn().Err(ev.Err).Str("executor_id", ev.ExecutorID).Str("conversation_id", conversationID).Msg("workflow_executor_failed")
		case workflow.EventAgentRunUpdate:
			streamSeq++
			_ = bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindStream, Content: ev.Content, ExecutorID: ev.ExecutorID, StreamSeq: streamSeq})
		case workflow.EventWorkflowOutput:
			finalText, _ = ev.Output.(string)
		case workflow.EventWorkflowFailed:
			workflowErr = ev.Err
		}
	}

	durableCtx := context.WithoutCancel(ctx)

	assistantText := strings.TrimSpace(finalText)
	if workflowErr != nil {
		log.Error().Err(workflowErr).Str("conversation_id", conversationID).Msg("workflow_failed")
	}
	if workflowErr != nil || assistantText == "" {
		assistantText = userFacingFailureMessage
	}

	assistantSeq := userSeq + 1
	if err := o.persistAssistantMessage(durableCtx, conversationID, userID, assistantSeq, assistantText); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("persist_assistant_message_failed")
	}

	_ = bus.Publish(durableCtx, eventbus.Event{Kind: eventbus.KindAssistantMessage, Content: assistantText, Seq: assistantSeq, Time: time.Now().UTC()})
	bus.Close()

	if o.memory != nil {
		go func() {
			if _, err := o.memory.Trigger(durableCtx, conversationID, assistantSeq); err != nil {
				log.Error().Err(err).Str("conversation_id", conversationID).Msg("memory_trigger_failed")
			}
		}()
	}
}

func (o *Orchestrator) persistAssistantMessage(ctx context.Context, conversationID string, userID *int64, seq int, content string) error {
	messages, err := o.conversations.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	messages = append(messages, persistence.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sequence:       seq,
		Role:           persistence.RoleAssistant,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
	if _, err := o.conversations.SaveMessages(ctx, userID, conversationID, messages); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}
	return nil
}

// buildWorkflowInput flattens the Memory Service's context and the freshly
// posted message into the single prompt string the workflow's entry executor
// classifies/plans against: memory as preamble, then gap messages, then the
// current message, per §4.K step 2.
func buildWorkflowInput(memCtx memory.ConversationContext, currentMessage string) string {
	var b strings.Builder
	if summary := strings.TrimSpace(memCtx.MemoryText); summary != "" {
		b.WriteString("Conversation summary so far:\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	for _, m := range memCtx.GapMessages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("User: ")
	b.WriteString(currentMessage)
	return b.String()
}
