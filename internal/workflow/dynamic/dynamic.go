// Package dynamic builds the concrete Dynamic/ReAct Workflow (component H):
// plan, execute a (possibly multi-step) plan against specialists, review the
// combined results, and either stream a final summary or loop back through a
// bounded replan round.
package dynamic

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"weavechat/internal/agent/prompts"
	"weavechat/internal/llm"
	"weavechat/internal/specialists"
	"weavechat/internal/workflow"
)

const (
	ExecStoreQuery      = "store_query"
	ExecTriage          = "triage_executor"
	ExecClarify         = "clarify_executor"
	ExecReject          = "reject_query"
	ExecOrchestrator    = "orchestrator"
	ExecReview          = "review_executor"
	ExecStreamingSummary = "streaming_summary"
)

// PlanStep is one unit of the plan: invoke agent with question, grouped by
// Step so same-step entries run in parallel and steps run in sequence.
type PlanStep struct {
	Step     int    `json:"step"`
	Agent    string `json:"agent"`
	Question string `json:"question"`
}

// PlanOutput is plan_agent's structured response to a fresh user query.
type PlanOutput struct {
	Action       string     `json:"action"` // "plan" | "clarify" | "reject"
	RejectReason string     `json:"reject_reason"`
	Plan         []PlanStep `json:"plan"`
	PlanReason   string     `json:"plan_reason"`
}

// ReplanOutput is replan_agent's structured response to review feedback.
type ReplanOutput struct {
	AcceptReview    bool       `json:"accept_review"`
	NewPlan         []PlanStep `json:"new_plan"`
	RejectionReason string     `json:"rejection_reason"`
}

// ReviewOutput is review_agent's structured verdict on the orchestrator's
// aggregated results.
type ReviewOutput struct {
	IsComplete        bool     `json:"is_complete"`
	MissingAspects    []string `json:"missing_aspects"`
	SuggestedApproach string   `json:"suggested_approach"`
	Confidence        float64  `json:"confidence"`
}

// UserInput is triage_executor's input shape on a fresh user turn.
type UserInput struct {
	Query string
}

// ReplanRequest is the loop-edge payload review_executor sends back to
// triage_executor when the aggregated results are incomplete.
type ReplanRequest struct {
	Review     ReviewOutput
	Aggregated string
}

// TriageResult is triage_executor's unified output: either a fresh plan or a
// replan decision, routed by the single unified selector described in §4.H.
type TriageResult struct {
	IsReplan        bool
	Plan            PlanOutput
	Replan          ReplanOutput
	PriorAggregated string // carried through from ReplanRequest for the streaming_summary fallback
}

// OrchestratorResult is what orchestrator hands to review_executor.
type OrchestratorResult struct {
	Aggregated string
	Plan       []PlanStep
}

// Config wires the workflow's agents.
type Config struct {
	// Classifier answers plan_agent, replan_agent, and review_agent — the
	// three JSON-structured steps.
	Classifier      llm.Provider
	ClassifierModel string
	// Summarizer answers the streaming summary steps.
	Summarizer   llm.Provider
	SummaryModel string
	Specialists  *specialists.Registry
	AgentNames   []string
}

// Build constructs the Dynamic/ReAct Workflow graph described in §4.H.
func Build(cfg Config) *workflow.Graph {
	allowed := make(map[string]bool, len(cfg.AgentNames))
	for _, n := range cfg.AgentNames {
		allowed[n] = true
	}

	g := workflow.NewGraph(ExecStoreQuery)
	g.Add(passthroughExecutor{})
	g.Add(&triageExecutor{cfg: cfg, allowed: allowed})
	g.Add(&clarifyExecutor{})
	g.Add(&rejectExecutor{})
	g.Add(&orchestratorExecutor{specialists: cfg.Specialists})
	g.Add(&reviewExecutor{reviewer: cfg.Classifier, reviewModel: cfg.ClassifierModel, summarizer: cfg.Summarizer, summaryModel: cfg.SummaryModel})
	g.Add(&streamingSummaryExecutor{summarizer: cfg.Summarizer, summaryModel: cfg.SummaryModel})

	g.To(ExecStoreQuery, ExecTriage)
	g.Edge(ExecTriage, unifiedSelect)
	g.To(ExecOrchestrator, ExecReview)
	g.Edge(ExecReview, reviewSelect)

	return g
}

// unifiedSelect routes triage_executor's output per the single selector
// described in §4.H: plan/clarify/reject on a fresh plan, accept/fallback on
// a replan decision.
func unifiedSelect(output any) []string {
	tr, _ := output.(TriageResult)
	if !tr.IsReplan {
		switch tr.Plan.Action {
		case "clarify":
			return []string{ExecClarify}
		case "reject":
			return []string{ExecReject}
		default:
			return []string{ExecOrchestrator}
		}
	}
	if tr.Replan.AcceptReview && len(tr.Replan.NewPlan) > 0 {
		return []string{ExecOrchestrator}
	}
	return []string{ExecStreamingSummary}
}

// reviewSelect loops back to triage_executor when review_executor emits a
// ReplanRequest; an empty selection marks review_executor's own output
// (the completed summary) as the run's terminal value.
func reviewSelect(output any) []string {
	if _, ok := output.(ReplanRequest); ok {
		return []string{ExecTriage}
	}
	return nil
}

type passthroughExecutor struct{}

func (passthroughExecutor) ID() string { return ExecStoreQuery }
func (passthroughExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	query, _ := in.Payload.(string)
	return UserInput{Query: query}, nil
}

type triageExecutor struct {
	cfg     Config
	allowed map[string]bool
}

func (t *triageExecutor) ID() string { return ExecTriage }

func (t *triageExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	switch payload := in.Payload.(type) {
	case UserInput:
		var out PlanOutput
		msgs := []llm.Message{
			{Role: "system", Content: prompts.PlannerPrompt()},
			{Role: "user", Content: payload.Query},
		}
		if err := llm.ChatJSON(rc.Context(), t.cfg.Classifier, msgs, t.cfg.ClassifierModel, &out); err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
		if err := t.validatePlan(out.Plan); err != nil {
			return nil, err
		}
		return TriageResult{Plan: out}, nil
	case ReplanRequest:
		var out ReplanOutput
		msgs := []llm.Message{
			{Role: "system", Content: prompts.PlannerPrompt()},
			{Role: "user", Content: fmt.Sprintf(
				"The previous plan's results were reviewed and found incomplete.\n\n"+
					"Prior aggregated results:\n%s\n\nReviewer feedback: missing %v. Suggested approach: %s.\n\n"+
					"Produce a corrected plan covering only what remains, or reject the review if the prior plan already fully answers the request.",
				payload.Aggregated, payload.Review.MissingAspects, payload.Review.SuggestedApproach),
			},
		}
		if err := llm.ChatJSON(rc.Context(), t.cfg.Classifier, msgs, t.cfg.ClassifierModel, &out); err != nil {
			return nil, fmt.Errorf("replan: %w", err)
		}
		if err := t.validatePlan(out.NewPlan); err != nil {
			return nil, err
		}
		return TriageResult{IsReplan: true, Replan: out, PriorAggregated: payload.Aggregated}, nil
	default:
		return nil, fmt.Errorf("triage_executor: unexpected input type %T", payload)
	}
}

func (t *triageExecutor) validatePlan(steps []PlanStep) error {
	for _, step := range steps {
		if !t.allowed[step.Agent] {
			return fmt.Errorf("plan named unregistered agent %q: %w", step.Agent, llm.ErrSchemaViolation)
		}
	}
	return nil
}

type clarifyExecutor struct{}

func (clarifyExecutor) ID() string { return ExecClarify }
func (clarifyExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	tr, _ := in.Payload.(TriageResult)
	reason := strings.TrimSpace(tr.Plan.PlanReason)
	if reason == "" {
		reason = "Could you clarify what you'd like me to do?"
	}
	return reason, nil
}

type rejectExecutor struct{}

func (rejectExecutor) ID() string { return ExecReject }
func (rejectExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	tr, _ := in.Payload.(TriageResult)
	reason := strings.TrimSpace(tr.Plan.RejectReason)
	if reason == "" {
		reason = "I can't help with that request."
	}
	return reason, nil
}

type orchestratorExecutor struct {
	specialists *specialists.Registry
}

func (o *orchestratorExecutor) ID() string { return ExecOrchestrator }

func (o *orchestratorExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	tr, _ := in.Payload.(TriageResult)
	steps := tr.Plan.Plan
	if tr.IsReplan {
		steps = tr.Replan.NewPlan
	}

	grouped := groupByStep(steps)
	var allResults []string
	var priorStepSummary string
	for _, group := range grouped {
		results := make([]string, len(group))
		g, gctx := errgroup.WithContext(rc.Context())
		for i, step := range group {
			i, step := i, step
			g.Go(func() error {
				agent, ok := o.specialists.Get(step.Agent)
				if !ok {
					return fmt.Errorf("orchestrator: unregistered agent %q", step.Agent)
				}
				question := step.Question
				if priorStepSummary != "" {
					question = fmt.Sprintf("Context from the previous step:\n%s\n\nTask:\n%s", priorStepSummary, question)
				}
				resp, err := agent.Inference(gctx, question, nil)
				if err != nil {
					return fmt.Errorf("orchestrator step agent %q: %w", step.Agent, err)
				}
				results[i] = fmt.Sprintf("[%s] %s", step.Agent, resp)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		priorStepSummary = strings.Join(results, "\n")
		allResults = append(allResults, results...)
	}

	return OrchestratorResult{Aggregated: strings.Join(allResults, "\n\n"), Plan: steps}, nil
}

// groupByStep buckets steps by Step number, sorted ascending; steps sharing a
// Step number run in parallel, buckets run in sequence.
func groupByStep(steps []PlanStep) [][]PlanStep {
	byStep := make(map[int][]PlanStep)
	var order []int
	for _, s := range steps {
		if _, seen := byStep[s.Step]; !seen {
			order = append(order, s.Step)
		}
		byStep[s.Step] = append(byStep[s.Step], s)
	}
	sort.Ints(order)
	groups := make([][]PlanStep, 0, len(order))
	for _, step := range order {
		groups = append(groups, byStep[step])
	}
	return groups
}

type reviewExecutor struct {
	reviewer    llm.Provider
	reviewModel string
	summarizer  llm.Provider
	summaryModel string
}

func (r *reviewExecutor) ID() string          { return ExecReview }
func (r *reviewExecutor) OutputResponse() bool { return true }

func (r *reviewExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	res, _ := in.Payload.(OrchestratorResult)

	var review ReviewOutput
	msgs := []llm.Message{
		{Role: "system", Content: prompts.ReviewPrompt()},
		{Role: "user", Content: res.Aggregated},
	}
	if err := llm.ChatJSON(rc.Context(), r.reviewer, msgs, r.reviewModel, &review); err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	if review.IsComplete {
		text, err := streamSummary(rc, r.summarizer, r.summaryModel, res.Aggregated)
		if err != nil {
			return nil, err
		}
		return text, nil
	}
	return ReplanRequest{Review: review, Aggregated: res.Aggregated}, nil
}

type streamingSummaryExecutor struct {
	summarizer   llm.Provider
	summaryModel string
}

func (streamingSummaryExecutor) ID() string          { return ExecStreamingSummary }
func (streamingSummaryExecutor) OutputResponse() bool { return true }

func (s streamingSummaryExecutor) Run(rc *workflow.RunContext, in workflow.Envelope) (any, error) {
	tr, _ := in.Payload.(TriageResult)
	content := tr.PriorAggregated
	if strings.TrimSpace(content) == "" {
		content = "No results were gathered before the review rejected the plan; let the user know nothing could be confirmed yet."
	}
	return streamSummary(rc, s.summarizer, s.summaryModel, content)
}

func streamSummary(rc *workflow.RunContext, provider llm.Provider, model, content string) (string, error) {
	var b strings.Builder
	handler := streamFunc(func(delta string) {
		b.WriteString(delta)
		rc.Emit(delta)
	})
	msgs := []llm.Message{
		{Role: "system", Content: prompts.SummaryPrompt()},
		{Role: "user", Content: content},
	}
	if err := provider.ChatStream(rc.Context(), msgs, nil, model, handler); err != nil {
		return "", fmt.Errorf("summary stream: %w", err)
	}
	return b.String(), nil
}

type streamFunc func(string)

func (f streamFunc) OnDelta(content string)    { f(content) }
func (f streamFunc) OnToolCall(llm.ToolCall)    {}
func (f streamFunc) OnImage(llm.GeneratedImage) {}
func (f streamFunc) OnThoughtSummary(string)    {}
