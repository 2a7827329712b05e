package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"weavechat/internal/observability"
)

const defaultMaxIterations = 10

// Engine drives a Graph with the superstep scheduler described in §4.F: each
// superstep runs every executor whose input envelope is ready (concurrently,
// via errgroup, generalizing the fan-out/gate shape in
// internal/agent/warpp.go.RunWARPP from two fixed branches to an arbitrary
// per-superstep frontier), then routes each output along its graph's edges
// to build the next superstep's frontier.
type Engine struct {
	graph         *Graph
	maxIterations int
}

// NewEngine builds an Engine for graph. maxIterations <= 0 uses the default
// of 10.
func NewEngine(graph *Graph, maxIterations int) *Engine {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Engine{graph: graph, maxIterations: maxIterations}
}

type frontierItem struct {
	execID string
	env    Envelope
}

// RunStream starts the graph with input and returns the WorkflowEvent stream.
// The run continues in a background goroutine; the channel is closed after
// the run's last event: WorkflowFailed, or WorkflowDone (preceded by
// WorkflowOutput when the run produced a final value).
func (e *Engine) RunStream(ctx context.Context, input any) <-chan Event {
	out := make(chan Event, 64)
	go e.run(ctx, input, out)
	return out
}

func (e *Engine) run(ctx context.Context, input any, out chan<- Event) {
	defer close(out)
	log := observability.LoggerWithTrace(ctx)

	streaming := e.graph.streamingExecutorIDs()
	streamSeq := 0

	frontier := []frontierItem{{execID: e.graph.entry, env: Envelope{Payload: input}}}
	var (
		finalOutput any
		finalSet    bool
	)

	for iteration := 1; len(frontier) > 0; iteration++ {
		if iteration > e.maxIterations {
			log.Warn().Int("max_iterations", e.maxIterations).Msg("workflow_iteration_limit_exceeded")
			out <- Event{Kind: EventWorkflowFailed, Err: ErrIterationLimitExceeded}
			return
		}

		type result struct {
			execID string
			output any
			err    error
		}
		results := make([]result, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		for i, item := range frontier {
			i, item := i, item
			exec, ok := e.graph.executors[item.execID]
			if !ok {
				results[i] = result{execID: item.execID, err: fmt.Errorf("%w: %q", ErrUnknownExecutor, item.execID)}
				continue
			}
			g.Go(func() error {
				out <- Event{Kind: EventExecutorInvoked, ExecutorID: item.execID}
				rc := &RunContext{ctx: gctx, out: out, execID: item.execID, streaming: streaming[item.execID], streamSeqs: &streamSeq}
				output, err := exec.Run(rc, item.env)
				if err != nil {
					results[i] = result{execID: item.execID, err: err}
					out <- Event{Kind: EventExecutorFailed, ExecutorID: item.execID, Err: err}
					return err
				}
				results[i] = result{execID: item.execID, output: output}
				out <- Event{Kind: EventExecutorCompleted, ExecutorID: item.execID, Output: output}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			out <- Event{Kind: EventWorkflowFailed, Err: err}
			return
		}
		for _, r := range results {
			if r.err != nil {
				out <- Event{Kind: EventWorkflowFailed, Err: r.err}
				return
			}
		}

		type pending struct {
			sourceID string
			output   any
		}
		byTarget := make(map[string][]pending)
		var targetOrder []string
		for _, r := range results {
			edges := e.graph.edges[r.execID]
			routed := false
			for _, edge := range edges {
				for _, target := range edge.Select(r.output) {
					routed = true
					if _, seen := byTarget[target]; !seen {
						targetOrder = append(targetOrder, target)
					}
					byTarget[target] = append(byTarget[target], pending{sourceID: r.execID, output: r.output})
				}
			}
			if !routed {
				// Either a true sink (no edges registered) or a conditional
				// edge that selected zero targets this run (e.g. the review
				// loop's terminal "complete" branch): either way, this
				// executor's output is a terminal value for the run.
				finalOutput = r.output
				finalSet = true
			}
		}

		// Fan-in: when several producers in this superstep route to the same
		// target, the target's next envelope carries all of them as
		// []Contribution rather than running once per producer. A target
		// reached by exactly one producer keeps the plain single-output shape
		// so ordinary (non-fan-in) edges are unaffected.
		var next []frontierItem
		for _, target := range targetOrder {
			contribs := byTarget[target]
			if len(contribs) == 1 {
				next = append(next, frontierItem{
					execID: target,
					env:    Envelope{Payload: contribs[0].output, SourceID: contribs[0].sourceID, Iteration: iteration},
				})
				continue
			}
			cs := make([]Contribution, len(contribs))
			for i, c := range contribs {
				cs[i] = Contribution{SourceID: c.sourceID, Output: c.output}
			}
			next = append(next, frontierItem{execID: target, env: Envelope{Payload: cs, Iteration: iteration}})
		}
		frontier = next
	}

	if finalSet {
		out <- Event{Kind: EventWorkflowOutput, Output: finalOutput}
	}
	out <- Event{Kind: EventWorkflowDone}
}
