package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/legend/internal/eventbus"
	"github.com/hanpama/legend/internal/events"
	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/metrics"
	"github.com/hanpama/legend/internal/plan"
	"github.com/stretchr/testify/require"
)

const greetPlan = `{
  "rootExecutionNode": {
    "_type": "sequence",
    "executionNodes": [
      {
        "_type": "functionParametersValidation",
        "functionParameters": [{"name": "name", "class": "String", "multiplicity": {"lowerBound": 1, "upperBound": 1}}]
      },
      {"_type": "constant", "values": {"_type": "var", "name": "name"}}
    ]
  }
}`

const firmsPlan = `{
  "rootExecutionNode": {"_type": "relational", "connection": "db", "sqlQuery": "select * from firm", "resultColumns": ["id"]}
}`

func newTestHandler(t *testing.T, store *executor.MockStore, opts ...Option) *Handler {
	t.Helper()
	var eopts []executor.Option
	if store != nil {
		eopts = append(eopts, executor.WithStore(store))
	}
	return New(executor.New(eopts...), opts...)
}

func post(t *testing.T, h http.Handler, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/execute", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestExecute(t *testing.T) {
	h := newTestHandler(t, nil)
	w := post(t, h, `{"plan": `+greetPlan+`, "parameters": {"name": "alice"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	if diff := cmp.Diff(map[string]any{"values": "alice"}, decode(t, w)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_ErrorStatus(t *testing.T) {
	store := executor.NewMockStore(plan.TypeRelational, map[string]executor.MockHandler{
		"select * from firm": executor.NewMockErrorHandler(errors.New("connection refused")),
	})
	h := newTestHandler(t, store)

	tests := []struct {
		name     string
		body     string
		status   int
		category metrics.Category
	}{
		{"missing parameter", `{"plan": ` + greetPlan + `}`, http.StatusBadRequest, metrics.CategoryUser},
		{"store failure", `{"plan": ` + firmsPlan + `}`, http.StatusInternalServerError, metrics.CategoryServer},
		{"invalid JSON", `{"plan": `, http.StatusBadRequest, metrics.CategoryUser},
		{"missing plan", `{}`, http.StatusBadRequest, metrics.CategoryUser},
		{"unknown node", `{"plan": {"rootExecutionNode": {"_type": "nope"}}}`, http.StatusBadRequest, metrics.CategoryUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, h, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode(t, w)["error"].(map[string]any)
			require.Equal(t, string(tt.category), body["category"])
			require.NotEmpty(t, body["message"])
		})
	}
}

func TestExecute_Identity(t *testing.T) {
	store := executor.NewMockStore(plan.TypeRelational, map[string]executor.MockHandler{
		"select * from firm": executor.NewMockValuesHandler(map[string]any{"id": 1}),
	})
	h := newTestHandler(t, store)

	w := post(t, h, `{"plan": `+firmsPlan+`}`, HeaderUser, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, []any{map[string]any{"id": 1.0}}, decode(t, w)["values"])

	calls := store.GetCalls()
	require.NotEmpty(t, calls)
	require.Equal(t, executor.CallKindNewState, calls[0].Kind)
	require.Equal(t, "alice", calls[0].Identity)
}

func TestExecute_Events(t *testing.T) {
	var finished []events.PlanRequestFinish
	var started []string
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	eventbus.On(bus, func(_ context.Context, e events.PlanRequestStart) { started = append(started, e.User) })
	eventbus.On(bus, func(_ context.Context, e events.PlanRequestFinish) {
		e.Request, e.Duration = nil, 0
		finished = append(finished, e)
	})

	h := newTestHandler(t, nil)
	post(t, h, `{"plan": `+greetPlan+`}`, HeaderRequestID, "req-0")
	w := post(t, h, `{"plan": `+greetPlan+`, "parameters": {"name": "bob"}}`, HeaderRequestID, "req-1", HeaderUser, "alice")
	require.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	post(t, h, `{"plan":`, HeaderRequestID, "req-2")

	require.Equal(t, []string{"", "alice", ""}, started)
	want := []events.PlanRequestFinish{
		{RequestID: "req-0", Root: plan.TypeSequence, Status: http.StatusBadRequest, Category: string(metrics.CategoryUser)},
		{RequestID: "req-1", User: "alice", Root: plan.TypeSequence, Status: http.StatusOK},
		{RequestID: "req-2", Status: http.StatusBadRequest, Category: string(metrics.CategoryUser)},
	}
	if diff := cmp.Diff(want, finished); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	h := newTestHandler(t, nil)
	w := post(t, h, `{"plan": `+greetPlan+`, "parameters": {"name": "bob"}}`)
	require.Len(t, w.Header().Get(HeaderRequestID), 36)
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, nil, WithCORS("*"))

	// simple request
	w := post(t, h, `{"plan": `+greetPlan+`, "parameters": {"name": "bob"}}`, "Origin", "http://example.com")
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/api/execute", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", HeaderUser)
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != HeaderUser {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := newTestHandler(t, nil, WithMaxBodyBytes(10))
	w := post(t, h, `{"plan": `+greetPlan+`}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestRoutes(t *testing.T) {
	h := newTestHandler(t, nil, WithMetrics(metrics.NewRegistry()))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "legend_graphfetch_batches_total"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/execute", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
