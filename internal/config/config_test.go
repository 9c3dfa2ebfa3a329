package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  addr: ":8080"
  timeout: 5s
  corsOrigins: ["*"]
execution:
  batchSize: 50
stores:
  relational:
    connections:
      db: "file:legend.db"
  inMemory:
    datasets:
      people: people.json
  service:
    endpoints:
      legend.test.FirmService: ["localhost:9000"]
    rpcTimeout: 1s
logging:
  level: debug
  format: console
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	want := Default()
	want.Server.Addr = ":8080"
	want.Server.Timeout = 5 * time.Second
	want.Server.CORSOrigins = []string{"*"}
	want.Execution.BatchSize = 50
	want.Stores.Relational.Connections = map[string]string{"db": "file:legend.db"}
	want.Stores.InMemory.Datasets = map[string]string{"people": "people.json"}
	want.Stores.Service.Endpoints = map[string][]string{"legend.test.FirmService": {"localhost:9000"}}
	want.Stores.Service.RPCTimeout = time.Second
	want.Logging.Level = "debug"
	want.Logging.Format = "console"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"unknown key", "server:\n  port: 80\n", "field port not found"},
		{"bad duration", "server:\n  timeout: soon\n", "parse config"},
		{"batch size", "execution:\n  batchSize: 0\n", "execution.batchSize must be positive"},
		{"log level", "logging:\n  level: loud\n", `logging.level "loud"`},
		{"log format", "logging:\n  format: xml\n", `logging.format "xml"`},
		{"endpoint", "stores:\n  service:\n    endpoints:\n      a.B: []\n", "stores.service.endpoints.a.B: no address"},
		{"otel service", "otel:\n  endpoint: localhost:4317\n  service: \"\"\n", "otel.service is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorContains(t, err, tt.err)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":6300", c.Server.Addr)

	path := filepath.Join(t.TempDir(), "legend.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	c, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}
