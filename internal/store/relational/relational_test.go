package relational

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(WithConnection("main", filepath.Join(t.TempDir(), "firms.db")))
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	db, err := s.DB(context.Background(), "main")
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE firm (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
		CREATE TABLE person (id INTEGER PRIMARY KEY, firm_id INTEGER, name TEXT NOT NULL);
		INSERT INTO firm (id, name) VALUES (1, 'acme'), (2, 'globex'), (3, 'initech');
		INSERT INTO person (id, firm_id, name) VALUES (1, 1, 'ann'), (2, 1, 'bob'), (3, 3, 'cid');
	`)
	require.NoError(t, err)
	return s
}

func TestExecute(t *testing.T) {
	s := newStore(t)
	e := executor.New(executor.WithStore(s))
	state := e.NewState(nil)
	state.Bind("ids", []any{1, 3})

	r, err := e.Execute(context.Background(), &plan.RelationalNode{
		Connection: "main",
		SQL:        "SELECT id, name FROM firm WHERE id IN ({{ sqlList .ids }}) ORDER BY id",
	}, state)
	require.NoError(t, err)
	so, ok := r.(*result.StreamingObject)
	require.True(t, ok)
	require.Equal(t, result.BuilderTDS, so.Builder().Type)
	if diff := cmp.Diff([]string{"id", "name"}, so.Builder().Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	got, err := so.Values()
	require.NoError(t, err)
	want := []any{
		map[string]any{"id": int64(1), "name": "acme"},
		map[string]any{"id": int64(3), "name": "initech"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_EarlyClose(t *testing.T) {
	s := newStore(t)
	e := executor.New(executor.WithStore(s))
	r, err := e.Execute(context.Background(), &plan.RelationalNode{Connection: "main", SQL: "SELECT id FROM firm ORDER BY id"}, e.NewState(nil))
	require.NoError(t, err)

	so := r.(*result.StreamingObject)
	for obj, err := range so.Objects() {
		require.NoError(t, err)
		require.Equal(t, int64(1), obj.(map[string]any)["id"])
		break
	}
	require.NoError(t, so.Close())
	require.NoError(t, so.Close())

	// the connection is usable after an abandoned stream
	r, err = e.Execute(context.Background(), &plan.RelationalNode{Connection: "main", SQL: "SELECT count(*) AS n FROM firm"}, e.NewState(nil))
	require.NoError(t, err)
	got, err := result.Value(r)
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"n": int64(3)}}, got)
}

func TestGraphFetch(t *testing.T) {
	s := newStore(t)
	e := executor.New(executor.WithStore(s), executor.WithBatchSize(2))
	node := &plan.GraphFetchNode{
		Root:  &plan.RelationalNode{Connection: "main", SQL: "SELECT id, name FROM firm ORDER BY id"},
		Local: &plan.LocalGraphFetchNode{NodeIndex: 0},
		Children: []*plan.GlobalGraphFetchNode{{
			ParentIndex: 0,
			Property:    "employees",
			ToMany:      true,
			ParentKeys:  []string{"id"},
			ChildKeys:   []string{"firm_id"},
			Source: &plan.RelationalNode{
				Connection: "main",
				SQL:        "SELECT firm_id, name FROM person WHERE firm_id IN ({{ sqlList .parents }}) ORDER BY id",
			},
			Local: &plan.LocalGraphFetchNode{NodeIndex: 1},
		}},
	}
	r, err := e.Execute(context.Background(), node, e.NewState(nil))
	require.NoError(t, err)
	got, err := result.Value(r)
	require.NoError(t, err)

	want := []any{
		map[string]any{"id": int64(1), "name": "acme", "employees": []any{
			map[string]any{"firm_id": int64(1), "name": "ann"},
			map[string]any{"firm_id": int64(1), "name": "bob"},
		}},
		map[string]any{"id": int64(2), "name": "globex", "employees": []any{}},
		map[string]any{"id": int64(3), "name": "initech", "employees": []any{
			map[string]any{"firm_id": int64(3), "name": "cid"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_Errors(t *testing.T) {
	s := newStore(t)
	e := executor.New(executor.WithStore(s))

	_, err := e.Execute(context.Background(), &plan.RelationalNode{Connection: "other", SQL: "SELECT 1"}, e.NewState(nil))
	require.ErrorIs(t, err, ErrUnknownConnection)
	var serr *executor.StoreError
	require.ErrorAs(t, err, &serr)

	_, err = e.Execute(context.Background(), &plan.RelationalNode{Connection: "main", SQL: "SELECT * FROM missing"}, e.NewState(nil))
	require.Error(t, err)

	_, err = e.Execute(context.Background(), &plan.RelationalNode{Connection: "main", SQL: "SELECT {{ .x"}, e.NewState(nil))
	require.ErrorContains(t, err, "render sql")
}
