package executor

import (
	"context"

	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
)

// StoreFactory creates the per-execution state of one store type.
//
// General contract
//   - NewStoreState is called at most once per execution, the first time a
//     node of the store type is executed. identity is the identity the plan
//     runs for and must be used for authorization, never modified.
//   - StoreState.Execute runs one store node. Streaming results must release
//     their cursors and connections when closed; the executor closes every
//     result it does not hand out.
//   - Implementations should honor ctx for deadlines.
//   - Failures are fatal and reported to the caller wrapped in *StoreError.
type StoreFactory interface {
	StoreType() string
	NewStoreState(ctx context.Context, identity any) (StoreState, error)
}

// StoreState executes the store nodes of one execution.
type StoreState interface {
	Execute(ctx context.Context, node plan.StoreNode, state *State) (result.Result, error)
}
