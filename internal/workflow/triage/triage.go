// Package triage builds the concrete Triage Workflow (component G) on top of
// the generic dataflow runtime in internal/workflow: classify the user query,
// fan out to whichever specialists the classifier names, aggregate their
// answers, and stream a synthesized final reply.
package triage

import (
	"fmt"
	"sort"
	"strings"

	"weavechat/internal/agent/prompts"
	"weavechat/internal/llm"
	"weavechat/internal/specialists"
	"weavechat/internal/workflow"
)

const (
	ExecStoreQuery = "store_query"
	ExecTriage     = "triage_agent"
	ExecReject     = "reject_query"
	ExecDispatcher = "dispatcher"
	ExecAggregator = "aggregator"
	ExecSummary    = "summary_agent"
)

// Task is one classifier-assigned unit of work: ask agent the given question.
type Task struct {
	Agent    string `json:"agent"`
	Question string `json:"question"`
}

// Output is the triage_agent's structured classification.
type Output struct {
	ShouldReject bool   `json:"should_reject"`
	RejectReason string `json:"reject_reason"`
	Tasks        []Task `json:"tasks"`
}

// Config wires the workflow's agents.
type Config struct {
	// Classifier answers the triage_agent and summary_agent steps; it is the
	// workflow-level or process-default provider, not a named specialist.
	Classifier      llm.Provider
	ClassifierModel string
	// Specialists is the addressable sub-agent set the dispatcher may route to.
	Specialists *specialists.Registry
	// AgentNames restricts this workflow instance to a subset of Specialists
	// (e.g. the "triage set" from GET /api/agents?react_mode=false); tasks
	// naming an agent outside this set fail classification validation.
	AgentNames []string
}

// Build constructs the Triage Workflow graph described in §4.G.
func Build(cfg Config) *workflow.Graph {
	allowed := make(map[string]bool, len(cfg.AgentNames))
	for _, n := range cfg.AgentNames {
		allowed[n] = true
	}

	g := workflow.NewGraph(ExecStoreQuery)
	g.Add(passthroughExecutor{id: ExecStoreQuery})
	g.Add(&triageExecutor{cfg: cfg, allowed: allowed})
	g.Add(&rejectExecutor{agentNames: cfg.AgentNames})
	g.Add(&dispatcherExecutor{})
	g.Add(&aggregatorExecutor{})
	g.Add(&summaryExecutor{provider: cfg.Classifier, model: cfg.ClassifierModel})

	g.To(ExecStoreQuery, ExecTriage)
	g.Edge(ExecTriage, func(output any) []string {
		out, _ := output.(Output)
		if out.ShouldReject {
			return []string{ExecReject}
		}
		return []string{ExecDispatcher}
	})
	g.Edge(ExecDispatcher, dispatchTargets)
	for _, name := range cfg.AgentNames {
		g.Add(newSpecialistExecutor(name, cfg.Specialists))
		g.To(name, ExecAggregator)
	}
	g.To(ExecAggregator, ExecSummary)

	return g
}

// dispatchTargets names every sub-agent the dispatcher assigned a task to;
// computed once here and reused as the dispatcher's own selection function.
// should_reject=false with an empty task list routes straight to the
// aggregator instead of becoming a sink: its default case (triage.go's
// aggregatorExecutor.Run) turns a zero-producer fan-in into an empty
// aggregation, so the run still reaches summary_agent and completes with a
// generic string summary rather than silently terminating on a bare
// map[string]Task value the orchestrator can't interpret as text.
func dispatchTargets(output any) []string {
	tasks, _ := output.(map[string]Task)
	if len(tasks) == 0 {
		return []string{ExecAggregator}
	}
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type passthroughExecutor struct{ id string }

func (p passthroughExecutor) ID() string { return p.id }
func (p passthroughExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	return in.Payload, nil
}

type triageExecutor struct {
	cfg     Config
	allowed map[string]bool
}

func (t *triageExecutor) ID() string { return ExecTriage }

func (t *triageExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	query, _ := in.Payload.(string)
	msgs := []llm.Message{
		{Role: "system", Content: prompts.TriagePrompt(t.cfg.AgentNames)},
		{Role: "user", Content: query},
	}
	var out Output
	if err := llm.ChatJSON(rc.Context(), t.cfg.Classifier, msgs, t.cfg.ClassifierModel, &out); err != nil {
		return nil, fmt.Errorf("triage classification: %w", err)
	}
	for _, task := range out.Tasks {
		if !t.allowed[task.Agent] {
			return nil, fmt.Errorf("triage classification named unregistered agent %q: %w", task.Agent, llm.ErrSchemaViolation)
		}
	}
	return out, nil
}

type rejectExecutor struct{ agentNames []string }

func (r *rejectExecutor) ID() string             { return ExecReject }
func (r *rejectExecutor) OutputResponse() bool    { return true }
func (r *rejectExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	out, _ := in.Payload.(Output)
	text := rejectionText(out.RejectReason, r.agentNames)
	rc.Emit(text)
	return text, nil
}

func rejectionText(reason string, agentNames []string) string {
	reason = strings.TrimSpace(reason)
	scope := strings.Join(agentNames, ", ")
	if reason == "" {
		return fmt.Sprintf("I can only help with requests in scope for: %s.", scope)
	}
	return fmt.Sprintf("I can't help with that: %s. I can help with requests handled by: %s.", reason, scope)
}

type dispatcherExecutor struct{}

func (d *dispatcherExecutor) ID() string { return ExecDispatcher }
func (d *dispatcherExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	out, _ := in.Payload.(Output)
	byAgent := make(map[string]Task, len(out.Tasks))
	for _, task := range out.Tasks {
		byAgent[task.Agent] = task
	}
	return byAgent, nil
}

type specialistExecutor struct {
	name    string
	agents  *specialists.Registry
}

func newSpecialistExecutor(name string, reg *specialists.Registry) *specialistExecutor {
	return &specialistExecutor{name: name, agents: reg}
}

func (s *specialistExecutor) ID() string { return s.name }
func (s *specialistExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	tasks, _ := in.Payload.(map[string]Task)
	task, ok := tasks[s.name]
	if !ok {
		return "", nil
	}
	agent, ok := s.agents.Get(s.name)
	if !ok {
		return nil, fmt.Errorf("specialist %q not registered", s.name)
	}
	resp, err := agent.Inference(rc.Context(), task.Question, nil)
	if err != nil {
		return nil, fmt.Errorf("specialist %q: %w", s.name, err)
	}
	return resp, nil
}

const aggregatorSeparator = "\n\n---\n\n"

type aggregatorExecutor struct{}

func (a *aggregatorExecutor) ID() string { return ExecAggregator }
func (a *aggregatorExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	switch payload := in.Payload.(type) {
	case []workflow.Contribution:
		sections := make([]string, 0, len(payload))
		for _, c := range payload {
			text, _ := c.Output.(string)
			sections = append(sections, fmt.Sprintf("[%s]\n%s", c.SourceID, text))
		}
		return strings.Join(sections, aggregatorSeparator), nil
	case string:
		// Exactly one sub-agent was dispatched to; the engine's fan-in
		// coalescing only produces []Contribution for >1 producer.
		return payload, nil
	default:
		// No tasks were dispatched (should_reject = false with an empty task
		// list): still complete the run with an empty aggregation rather than
		// erroring, per the boundary case in the testable-properties section.
		return "", nil
	}
}

type summaryExecutor struct {
	provider llm.Provider
	model    string
}

func (s *summaryExecutor) ID() string          { return ExecSummary }
func (s *summaryExecutor) OutputResponse() bool { return true }
func (s *summaryExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	aggregated, _ := in.Payload.(string)
	msgs := []llm.Message{
		{Role: "system", Content: prompts.SummaryPrompt()},
		{Role: "user", Content: aggregated},
	}
	var text strings.Builder
	err := s.provider.ChatStream(rc.Context(), msgs, nil, s.model, streamFunc(func(delta string) {
		text.WriteString(delta)
		rc.Emit(delta)
	}))
	if err != nil {
		return nil, fmt.Errorf("summary stream: %w", err)
	}
	return text.String(), nil
}

// streamFunc adapts a delta callback to llm.StreamHandler for the summary
// step, which only ever needs the text channel.
type streamFunc func(string)

func (f streamFunc) OnDelta(content string)    { f(content) }
func (f streamFunc) OnToolCall(llm.ToolCall)    {}
func (f streamFunc) OnImage(llm.GeneratedImage) {}
func (f streamFunc) OnThoughtSummary(string)    {}
