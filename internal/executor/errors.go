package executor

import (
	"errors"
	"fmt"

	"github.com/hanpama/legend/internal/metrics"
)

// ErrNotImplemented is returned when a graph fetch leaf node is executed
// outside of a graph fetch batch.
var ErrNotImplemented = errors.New("executor: not implemented")

// UnsupportedNodeError is returned for nodes no executor or hook handles.
type UnsupportedNodeError struct {
	Type string
}

func (e *UnsupportedNodeError) Error() string {
	return fmt.Sprintf("executor: unsupported execution node type %q", e.Type)
}

func (e *UnsupportedNodeError) Category() metrics.Category { return metrics.CategoryInternal }

// PlatformError wraps failures of generated code: compilation, loading and
// invocation.
type PlatformError struct {
	Class string
	Err   error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("executor: platform %s: %v", e.Class, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

func (e *PlatformError) Category() metrics.Category { return metrics.CategoryInternal }

// StoreError wraps failures of store execution.
type StoreError struct {
	StoreType string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("executor: %s store: %v", e.StoreType, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Category() metrics.Category {
	var c metrics.Categorized
	if errors.As(e.Err, &c) {
		return c.Category()
	}
	return metrics.CategoryServer
}

// LimitError is returned when a graph fetch batch exceeds its estimated
// memory ceiling.
type LimitError struct {
	Limit int64
	Used  int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("executor: graph fetch batch exceeded the memory limit of %d bytes (estimated %d bytes)", e.Limit, e.Used)
}

func (e *LimitError) Category() metrics.Category { return metrics.CategoryServer }

// GraphFetchError reports graph fetch results that do not satisfy the
// declared shape of the fetch.
type GraphFetchError struct {
	Property string
	Reason   string
}

func (e *GraphFetchError) Error() string {
	return fmt.Sprintf("executor: graph fetch %s: %s", e.Property, e.Reason)
}

func (e *GraphFetchError) Category() metrics.Category { return metrics.CategoryInternal }
