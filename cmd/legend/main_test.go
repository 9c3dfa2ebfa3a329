package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/validation"
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

const peoplePlan = `{
  "rootExecutionNode": {"_type": "inMemory", "dataset": "people", "filter": "this.id >= min"}
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestParseParams(t *testing.T) {
	declared := []plan.Variable{{Name: "code", Class: validation.TypeString}, {Name: "limit", Class: validation.TypeInteger}}
	got, err := parseParams([]string{"name=alice", "limit=10", "ids=1", "ids=2", "ids=3", `tags=["a"]`, "empty=", "code=1", `code2="1"`}, declared)
	require.NoError(t, err)
	want := map[string]any{
		"name":  "alice",
		"limit": int64(10),
		"ids":   []any{int64(1), int64(2), int64(3)},
		"tags":  []any{"a"},
		"empty": "",
		"code":  "1",
		"code2": "1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	_, err = parseParams([]string{"novalue"}, nil)
	require.ErrorContains(t, err, "want name=value")
}

func TestExecuteCommand(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "plan.json", greetPlan)

	out, err := run(t, "execute", "--plan", planPath, "--param", "name=alice")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body), out)
	require.Equal(t, "alice", body["values"])

	out, err = run(t, "execute", "--plan", planPath, "--param", "name=1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &body), out)
	require.Equal(t, "1", body["values"])

	_, err = run(t, "execute", "--plan", planPath)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
}

func TestExecuteCommand_Datasets(t *testing.T) {
	dir := t.TempDir()
	people := writeFile(t, dir, "people.json", `[{"id": 1, "name": "ann"}, {"id": 2, "name": "bob"}]`)
	cfg := writeFile(t, dir, "legend.yaml", "stores:\n  inMemory:\n    datasets:\n      people: "+people+"\n")
	planPath := writeFile(t, dir, "plan.json", peoplePlan)

	out, err := run(t, "--config", cfg, "execute", "--plan", planPath, "--param", "min=2")
	require.NoError(t, err)
	var body struct {
		Values []map[string]any `json:"values"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body), out)
	require.Equal(t, []map[string]any{{"id": 2.0, "name": "bob"}}, body.Values)
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "plan.json", greetPlan)

	out, err := run(t, "check", "--plan", planPath)
	require.NoError(t, err)
	require.Contains(t, out, "plan ok: 0 units")
	require.Contains(t, out, "name:String[1]")

	_, err = run(t, "check", "--plan", planPath, "--param", `name=["a","b"]`)
	require.Error(t, err)

	_, err = run(t, "check", "--plan", filepath.Join(dir, "missing.json"))
	require.ErrorContains(t, err, "open plan")

	_, err = run(t, "check")
	require.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "plan.json", greetPlan)
	cfg := writeFile(t, dir, "legend.yaml", "nope: 1\n")
	_, err := run(t, "--config", cfg, "check", "--plan", planPath)
	require.ErrorContains(t, err, "field nope not found")

	_, err = run(t, "--log-level", "loud", "check", "--plan", planPath)
	require.ErrorContains(t, err, "logging.level")
}
