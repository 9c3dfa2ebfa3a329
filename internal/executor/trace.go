package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hanpama/legend/internal/eventbus"
	"github.com/hanpama/legend/internal/events"
)

type scopeKey struct{}

// ScopeFromContext returns the id of the innermost scope of ctx.
func ScopeFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(scopeKey{}).(string)
	return id, ok
}

// scope publishes the start of a traced phase and returns a context carrying
// it together with the function ending it.
func scope(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error)) {
	parent, _ := ScopeFromContext(ctx)
	id := uuid.NewString()
	start := time.Now()
	eventbus.Publish(ctx, events.ScopeStart{ID: id, Parent: parent, Name: name, Attrs: attrs})
	ctx = context.WithValue(ctx, scopeKey{}, id)
	return ctx, func(err error) {
		eventbus.Publish(ctx, events.ScopeFinish{ID: id, Name: name, Attrs: attrs, Err: err, Duration: time.Since(start)})
	}
}
