package executor

import (
	"context"
	"fmt"

	"github.com/hanpama/legend/internal/nativecode"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
)

// SerializeContext is handed to the serialize method of units implementing
// SerializeSpecifics.
type SerializeContext struct {
	Result   result.Result
	State    *State
	Identity any
}

// Values realizes the wrapped result.
func (c *SerializeContext) Values() ([]any, error) {
	v, err := result.Value(c.Result)
	if err != nil {
		return nil, err
	}
	switch list := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return list, nil
	default:
		return []any{list}, nil
	}
}

// Variable returns a variable of the executing state.
func (c *SerializeContext) Variable(name string) (any, error) { return c.State.Variable(name) }

func (e *Executor) executePlatform(ctx context.Context, n *plan.PlatformNode, state *State) (result.Result, error) {
	if n.Implementation == nil {
		return nil, &PlatformError{Err: fmt.Errorf("platform node without implementation")}
	}
	impl := n.Implementation
	unit, err := e.loadUnit(state, impl)
	if err != nil {
		return nil, err
	}

	if unit.Implements(nativecode.SerializeSpecifics) {
		if n.Child == nil {
			return nil, &PlatformError{Class: impl.ClassName, Err: fmt.Errorf("serializing unit without child node")}
		}
		child, err := e.Execute(ctx, n.Child, state)
		if err != nil {
			return nil, err
		}
		defer closeResult(child)
		out, err := unit.Invoke("serialize", &SerializeContext{Result: child, State: state, Identity: state.Identity()})
		if err != nil {
			return nil, &PlatformError{Class: impl.ClassName, Err: err}
		}
		return asResult(out), nil
	}

	out, err := unit.Invoke(impl.Method(), state, n, state.Identity())
	if err != nil {
		return nil, &PlatformError{Class: impl.ClassName, Err: err}
	}
	return asResult(out), nil
}

// loadUnit resolves the unit of impl, compiling the sources it carries into
// the session of the state.
func (e *Executor) loadUnit(state *State, impl *plan.PlatformImplementation) (*nativecode.Unit, error) {
	if state.session == nil {
		if e.opts.Compiler == nil {
			return nil, &PlatformError{Class: impl.ClassName, Err: fmt.Errorf("no native code compiler configured")}
		}
		state.session = e.opts.Compiler.NewSession()
	}
	if err := state.session.Compile(impl.Units...); err != nil {
		return nil, &PlatformError{Class: impl.ClassName, Err: err}
	}
	unit, err := state.session.Load(impl.ClassName)
	if err != nil {
		return nil, &PlatformError{Class: impl.ClassName, Err: err}
	}
	return unit, nil
}

func asResult(v any) result.Result {
	if r, ok := v.(result.Result); ok {
		return r
	}
	return &result.Constant{Value: v}
}
