package reqid

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background(), "")
	got, ok := FromContext(ctx)
	if !ok || got != id {
		t.Fatalf("expected %q from context, got %q ok=%v", id, got, ok)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", id, err)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected id in empty context")
	}
}

func TestContextGivenID(t *testing.T) {
	ctx, id := NewContext(context.Background(), "req-1")
	got, _ := FromContext(ctx)
	if id != "req-1" || got != "req-1" {
		t.Fatalf("expected given id, got %q and %q", id, got)
	}
}
