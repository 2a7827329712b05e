package workflow

import "errors"

// ErrIterationLimitExceeded is returned (wrapped in a WorkflowFailed event)
// when the superstep scheduler exceeds its configured max_iterations. This
// is not an engine bug: unbounded graph cycles (e.g. the Dynamic Workflow's
// review → replan → orchestrator → review loop) are expected to terminate
// via this bound, not via a detected fixpoint.
var ErrIterationLimitExceeded = errors.New("workflow: iteration limit exceeded")

// ErrUnknownExecutor is returned when an edge selects a target ID that was
// never registered on the graph.
var ErrUnknownExecutor = errors.New("workflow: unknown executor")
