package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type userError struct{}

func (userError) Error() string       { return "bad input" }
func (userError) Category() Category { return CategoryUser }

func TestCategorize(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"categorized", userError{}, CategoryUser},
		{"wrapped", fmt.Errorf("execute: %w", userError{}), CategoryUser},
		{"deadline", fmt.Errorf("store: %w", context.DeadlineExceeded), CategoryServer},
		{"plain", errors.New("x"), CategoryOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Categorize(tc.err))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Node("constant")
	r.Node("constant")
	r.Node("sequence")
	r.Batch(3)
	r.Batch(0)
	r.Compilation("cached")
	require.Equal(t, CategoryUser, r.Error(userError{}))
	r.ObservePlan(time.Now(), nil)

	require.Equal(t, 2.0, testutil.ToFloat64(r.nodes.WithLabelValues("constant")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.batches))
	require.Equal(t, 3.0, testutil.ToFloat64(r.rows))
	require.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues(string(CategoryUser))))
	require.Equal(t, 1.0, testutil.ToFloat64(r.compilations.WithLabelValues("cached")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "legend_execution_nodes_total"))
}

func TestRegistry_Nil(t *testing.T) {
	var r *Registry
	r.Node("constant")
	r.Batch(1)
	r.Compilation("compiled")
	r.ObservePlan(time.Now(), errors.New("x"))
	require.Equal(t, CategoryOther, r.Error(errors.New("x")))
	require.NotNil(t, r.Handler())
}
