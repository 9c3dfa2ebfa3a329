// Package executor interprets execution plans: trees of typed nodes
// describing store operations, control flow, graph fetch assembly and calls
// into generated code.
//
// # Overview
//
// Execute dispatches one node against a State and produces exactly one
// result.Result, recursing into children. Dispatch is a type switch over the
// built-in node kinds of package plan; node kinds the switch does not know
// are offered to the node hooks of the state, first non-nil result wins,
// and fail with *UnsupportedNodeError when no hook handles them.
//
// # Node contracts
//
//   - Constant: evaluates the value specification of the node against the
//     bindings of the state.
//   - Error: executes the optional child, realizes it as payload and returns
//     a *result.Error with code 1. The error node itself never fails.
//   - Sequence: executes children in order. Each child is first offered to
//     the sequence hooks; a hooked child does not become the returned result.
//     Results of default dispatched children that are superseded and not
//     bound to a variable are closed.
//   - MultiResultSequence: executes children in order, recording allocation
//     results under their variable name and the last result under
//     result.LastKey. The first *result.Error short-circuits the sequence.
//   - Allocation: executes the child in a forked state flagged as an
//     allocation, unwraps legacy {"values": [...]} constants, optionally
//     realizes the result and binds it in the parent state.
//   - FunctionParametersValidation: validates and normalizes the bound
//     parameters. Failures are fatal *validation.Error values.
//   - Platform: loads the generated unit named by the implementation and
//     invokes it. Units implementing nativecode.SerializeSpecifics receive
//     the child result wrapped in a SerializeContext.
//   - Conditional: renders the template predicate against the bindings and
//     executes the selected branch; without a false branch a false predicate
//     yields the constant "success".
//   - GraphFetch: see below.
//   - LocalGraphFetch and GlobalGraphFetch: only valid inside a graph fetch
//     batch; elsewhere they fail with ErrNotImplemented.
//   - Store nodes: executed by the StoreState created for their store type,
//     once per execution and lazily.
//
// # Graph fetch
//
// The root sub-plan produces a streaming result. With a platform
// implementation each root object is transformed by the unit and the
// transformed stream keeps the root builder. Otherwise root objects are
// consumed in batches, lazily, as the caller pulls the returned stream. A
// batch runs the local node, which materializes up to batch size root
// objects under node index 0 of a fresh GraphExecutionState, then each
// cross-store child in declared order. A child binds the keys of its parent
// objects, executes its source, materializes the child objects and attaches
// them to their parents. A batch that is empty or short is the last one.
//
// Every batch is bounded by an estimated memory ceiling; exceeding it is
// fatal. On any failure the root result is closed before the error reaches
// the consumer.
//
// # Errors
//
// Business failures are values (*result.Error) that propagate through
// sequences. Contract violations are returned Go errors that abort the
// traversal; ExecutePlan closes every bound result before returning one.
//
// # Tracing
//
// Graph fetches, their root execution, each batch and each cross-store child
// run in named scopes published as events.ScopeStart and events.ScopeFinish
// on the event bus.
package executor
