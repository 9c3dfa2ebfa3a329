package inmemory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/stretchr/testify/require"
)

const people = `[
	{"id": 1, "firm": 1, "name": "ann"},
	{"id": 2, "firm": 2, "name": "bob"},
	{"id": 3, "firm": 1, "name": "cid", "tags": ["a"]}
]`

func newExecutor(t *testing.T) (*executor.Executor, *Store) {
	t.Helper()
	s := New()
	require.NoError(t, s.Load("people", []byte(people)))
	return executor.New(executor.WithStore(s)), s
}

func values(t *testing.T, e *executor.Executor, state *executor.State, node plan.Node) []any {
	t.Helper()
	r, err := e.Execute(context.Background(), node, state)
	require.NoError(t, err)
	v, err := result.Value(r)
	require.NoError(t, err)
	return v.([]any)
}

func TestExecute_Filter(t *testing.T) {
	e, _ := newExecutor(t)
	state := e.NewState(nil)
	state.Bind("min", 2)

	got := values(t, e, state, &plan.InMemoryNode{Dataset: "people", Filter: "this.id >= min"})
	want := []any{
		map[string]any{"id": int64(2), "firm": int64(2), "name": "bob"},
		map[string]any{"id": int64(3), "firm": int64(1), "name": "cid", "tags": []any{"a"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filtered mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_Inline(t *testing.T) {
	e, _ := newExecutor(t)
	r, err := e.Execute(context.Background(), &plan.InMemoryNode{Class: "model::Firm", Values: []any{map[string]any{"id": 1}}}, e.NewState(nil))
	require.NoError(t, err)
	so := r.(*result.StreamingObject)
	require.Equal(t, "model::Firm", so.Builder().Class)
	got, err := so.Values()
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"id": 1}}, got)
}

func TestExecute_ObjectsAreCopies(t *testing.T) {
	e, _ := newExecutor(t)
	first := values(t, e, e.NewState(nil), &plan.InMemoryNode{Dataset: "people"})
	first[2].(map[string]any)["tags"].([]any)[0] = "changed"
	first[0].(map[string]any)["name"] = "changed"

	second := values(t, e, e.NewState(nil), &plan.InMemoryNode{Dataset: "people"})
	require.Equal(t, "ann", second[0].(map[string]any)["name"])
	require.Equal(t, []any{"a"}, second[2].(map[string]any)["tags"])
}

func TestExecute_Errors(t *testing.T) {
	e, _ := newExecutor(t)
	_, err := e.Execute(context.Background(), &plan.InMemoryNode{Dataset: "missing"}, e.NewState(nil))
	require.ErrorIs(t, err, ErrUnknownDataset)

	_, err = e.Execute(context.Background(), &plan.InMemoryNode{Dataset: "people", Filter: "this.id >"}, e.NewState(nil))
	require.ErrorContains(t, err, "filter")

	s := New()
	require.Error(t, s.Load("bad", []byte(`{"id": 1}`)))
}

func TestGraphFetch(t *testing.T) {
	e, _ := newExecutor(t)
	node := &plan.GraphFetchNode{
		Root:  &plan.InMemoryNode{Values: []any{map[string]any{"id": int64(1)}, map[string]any{"id": int64(2)}}},
		Local: &plan.LocalGraphFetchNode{NodeIndex: 0},
		Children: []*plan.GlobalGraphFetchNode{{
			Property:   "staff",
			ToMany:     true,
			ParentKeys: []string{"id"},
			ChildKeys:  []string{"firm"},
			Source:     &plan.InMemoryNode{Dataset: "people", Filter: "this.firm in parents"},
			Local:      &plan.LocalGraphFetchNode{NodeIndex: 1},
		}},
	}
	got := values(t, e, e.NewState(nil), node)
	names := map[int64][]string{}
	for _, f := range got {
		firm := f.(map[string]any)
		for _, p := range firm["staff"].([]any) {
			names[firm["id"].(int64)] = append(names[firm["id"].(int64)], p.(map[string]any)["name"].(string))
		}
	}
	if diff := cmp.Diff(map[int64][]string{1: {"ann", "cid"}, 2: {"bob"}}, names); diff != "" {
		t.Errorf("staff mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")
	require.NoError(t, os.WriteFile(path, []byte(people), 0o644))

	s := New()
	require.NoError(t, s.LoadFiles(map[string]string{"people": path}))
	require.Equal(t, 1, s.Len())
	require.Error(t, s.LoadFiles(map[string]string{"other": filepath.Join(t.TempDir(), "missing.json")}))
}
