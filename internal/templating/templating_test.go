package templating

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	e := New(0)
	cases := []struct {
		name string
		text string
		data map[string]any
		want string
	}{
		{"variable", `select * from t where id = {{ .id }}`, map[string]any{"id": int64(3)}, `select * from t where id = 3`},
		{"sqlString escapes", `name = {{ sqlString .name }}`, map[string]any{"name": "O'Hara"}, `name = 'O''Hara'`},
		{"sqlString null", `{{ sqlString .missing }}`, map[string]any{}, `null`},
		{"sqlList", `in ({{ sqlList .ids }})`, map[string]any{"ids": []any{"a", int64(2), true}}, `in ('a', 2, true)`},
		{"sqlList scalar", `in ({{ sqlList .id }})`, map[string]any{"id": int64(1)}, `in (1)`},
		{"size", `{{ size .xs }}`, map[string]any{"xs": []string{"a", "b"}}, `2`},
		{"join", `{{ join .xs "|" }}`, map[string]any{"xs": []any{1, 2}}, `1|2`},
		{"isNull", `{{ isNull .x }}`, map[string]any{"x": nil}, `true`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Render(tc.text, tc.data, nil)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestBoolean(t *testing.T) {
	e := New(8)
	ok, err := e.Boolean(`  {{ eq .x 3 }} `, map[string]any{"x": 3}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Boolean(`{{ equalsIgnoreCase .a "YES" }}`, map[string]any{"a": "no"}, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.Boolean(`TRUE`, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRender_TemplateFunctions(t *testing.T) {
	e := New(0)
	fns := []string{`{{ define "greeting" }}hello {{ .name }}{{ end }}`}
	got, err := e.Render(`{{ template "greeting" . }}!`, map[string]any{"name": "ann"}, fns)
	require.NoError(t, err)
	require.Equal(t, "hello ann!", got)

	_, err = e.Render(`{{ template "greeting" . }}`, nil, nil)
	require.Error(t, err)
}

func TestRender_ParseError(t *testing.T) {
	_, err := New(0).Render(`{{ if }}`, nil, nil)
	require.ErrorContains(t, err, "templating")
}

func TestReferences(t *testing.T) {
	e := New(0)
	fns := []string{`{{ define "byName" }}name = {{ sqlString .name }}{{ end }}`}
	cases := []struct {
		name string
		text string
		want Refs
	}{
		{"fields", `select * from t where id = {{ .id }} and x in ({{ sqlList .xs }})`, Refs{Names: []string{"id", "name", "xs"}}},
		{"range body", `{{ range .ids }}{{ . }},{{ end }}`, Refs{Names: []string{"ids", "name"}}},
		{"root variable", `{{ $.limit }}`, Refs{Names: []string{"limit", "name"}}},
		{"template call", `{{ template "byName" . }}`, Refs{Names: []string{"name"}}},
		{"whole map", `{{ size . }}`, Refs{Names: []string{"name"}, All: true}},
		{"if else", `{{ if .a }}{{ .b }}{{ else }}{{ .c }}{{ end }}`, Refs{Names: []string{"a", "b", "c", "name"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.References(tc.text, fns)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	refs, err := e.References(`true`, nil)
	require.NoError(t, err)
	require.False(t, refs.Has("x"))
	require.Empty(t, refs.Names)
}
