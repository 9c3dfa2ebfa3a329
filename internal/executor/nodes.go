package executor

import (
	"context"
	"fmt"

	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
)

func (e *Executor) executeConstant(n *plan.ConstantNode, state *State) (result.Result, error) {
	v, err := plan.Evaluate(n.Values, state.lookupValue)
	if err != nil {
		return nil, fmt.Errorf("executor: constant: %w", err)
	}
	return &result.Constant{Value: v}, nil
}

func (e *Executor) executeError(ctx context.Context, n *plan.ErrorNode, state *State) (result.Result, error) {
	var payload any
	if n.Child != nil {
		r, err := e.Execute(ctx, n.Child, state)
		if err != nil {
			return nil, err
		}
		if payload, err = result.Value(r); err != nil {
			return nil, err
		}
	}
	return &result.Error{Code: 1, Message: n.Message, Payload: payload}, nil
}

// executeSequence returns the result of the last default dispatched child.
// A child handled by a sequence hook does not become the result; when it is
// an allocation its result is still bound to the allocated variable.
// Replaced results are closed unless a binding still holds them.
func (e *Executor) executeSequence(ctx context.Context, n *plan.SequenceNode, state *State) (result.Result, error) {
	var last result.Result
	var lastVar string
	for _, child := range n.Children {
		r, hooked, err := e.sequenceHook(ctx, child, state)
		if err != nil {
			state.drop(last)
			return nil, err
		}
		if hooked {
			if a, ok := child.(*plan.AllocationNode); ok {
				state.Bind(a.VarName, r)
			}
			continue
		}
		r, err = e.Execute(ctx, child, state)
		if err != nil {
			state.drop(last)
			return nil, err
		}
		if last != nil && last != r {
			state.drop(last)
		}
		last, lastVar = r, allocated(child)
	}
	if last == nil {
		return &result.Constant{}, nil
	}
	return current(state, last, lastVar), nil
}

// allocated returns the variable node allocates, if any.
func allocated(node plan.Node) string {
	if a, ok := node.(*plan.AllocationNode); ok {
		return a.VarName
	}
	return ""
}

// current returns the bound form of an allocation result. Reading a
// variable realizes its binding, after which r may be a drained stream.
func current(state *State, r result.Result, name string) result.Result {
	if name == "" {
		return r
	}
	if got, ok := state.Result(name); ok {
		return got
	}
	return r
}

func (e *Executor) sequenceHook(ctx context.Context, node plan.Node, state *State) (result.Result, bool, error) {
	for _, h := range state.sequenceHooks {
		r, err := h(ctx, node, state)
		if err != nil {
			return nil, true, err
		}
		if r != nil {
			return r, true, nil
		}
	}
	return nil, false, nil
}

func (e *Executor) executeMultiResultSequence(ctx context.Context, n *plan.MultiResultSequenceNode, state *State) (result.Result, error) {
	var allocations []string
	var last result.Result
	var lastVar string
	for _, child := range n.Children {
		r, err := e.Execute(ctx, child, state)
		if err != nil {
			state.drop(last)
			return nil, err
		}
		if er, ok := r.(*result.Error); ok {
			state.drop(last)
			return er, nil
		}
		if last != nil && last != r {
			state.drop(last)
		}
		last, lastVar = r, allocated(child)
		if lastVar != "" {
			allocations = append(allocations, lastVar)
		}
	}
	results := make(map[string]result.Result, len(allocations)+1)
	for _, name := range allocations {
		results[name], _ = state.Result(name)
	}
	if last == nil {
		last = &result.Constant{}
	}
	results[result.LastKey] = current(state, last, lastVar)
	return &result.Multi{Results: results}, nil
}

func (e *Executor) executeAllocation(ctx context.Context, n *plan.AllocationNode, state *State) (result.Result, error) {
	child := state.fork(false)
	child.inAllocation = true
	child.allocation = n.VarName

	r, err := e.Execute(ctx, n.Child, child)
	if err != nil {
		return nil, err
	}
	r = unwrapLegacyValues(r)
	if state.realizeInMemory {
		realized, err := result.Realize(r)
		if err != nil {
			return nil, fmt.Errorf("executor: allocation %s: %w", n.VarName, err)
		}
		r = realized
	}
	state.Bind(n.VarName, r)
	return r, nil
}

// unwrapLegacyValues replaces a constant {"values": [v, ...]} by v.
func unwrapLegacyValues(r result.Result) result.Result {
	c, ok := r.(*result.Constant)
	if !ok {
		return r
	}
	m, ok := c.Value.(map[string]any)
	if !ok {
		return r
	}
	values, ok := m["values"]
	if !ok {
		return r
	}
	list, ok := values.([]any)
	if !ok {
		return &result.Constant{Value: values}
	}
	if len(list) == 0 {
		return &result.Constant{}
	}
	return &result.Constant{Value: list[0]}
}

func (e *Executor) executeConditional(ctx context.Context, n *plan.ConditionalNode, state *State) (result.Result, error) {
	refs, err := e.opts.Templates.References(n.Expression, state.templateFunctions)
	if err != nil {
		return nil, fmt.Errorf("executor: conditional: %w", err)
	}
	data, err := state.TemplateData(refs)
	if err != nil {
		return nil, err
	}
	ok, err := e.opts.Templates.Boolean(n.Expression, data, state.templateFunctions)
	if err != nil {
		return nil, fmt.Errorf("executor: conditional: %w", err)
	}
	switch {
	case ok:
		return e.Execute(ctx, n.TrueBlock, state)
	case n.FalseBlock != nil:
		return e.Execute(ctx, n.FalseBlock, state)
	default:
		return &result.Constant{Value: "success"}, nil
	}
}

func (e *Executor) executeParameterValidation(n *plan.FunctionParametersValidationNode, state *State) (result.Result, error) {
	if err := e.opts.Validator.Validate(n.Parameters, state, n.Enums); err != nil {
		return nil, err
	}
	if err := e.opts.Validator.Normalize(n.Parameters, state); err != nil {
		return nil, err
	}
	return &result.Constant{Value: true}, nil
}
