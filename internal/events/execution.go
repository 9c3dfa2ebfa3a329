package events

import "time"

// ExecutionStart is emitted before a plan is executed.
type ExecutionStart struct {
	Parameters int
	Units      int
}

// ExecutionFinish is emitted when the root node of a plan produced its
// result. Streamed results may still be consumed afterwards.
type ExecutionFinish struct {
	Err      error
	Duration time.Duration
}

// ScopeStart is emitted when the executor enters a traced phase: a graph
// fetch, its root execution, one batch or one cross-store child.
type ScopeStart struct {
	ID     string
	Parent string
	Name   string
	Attrs  map[string]any
}

// ScopeFinish is emitted when the phase started with the same ID ends.
type ScopeFinish struct {
	ID       string
	Name     string
	Attrs    map[string]any
	Err      error
	Duration time.Duration
}
