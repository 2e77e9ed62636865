package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPropertiesLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "props.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
route:
  source:
    url: timer:tick?period=100
    kafka:
      topic: from-file
    queue:
      size: 10
brokers: [a, b]
`), 0o644))
	t.Setenv("ROUTEX_PROP__ROUTE__SOURCE__QUEUE__SIZE", "20")

	props, err := LoadProperties(path, map[string]string{"route.source.kafka.topic": "inline"})
	require.NoError(t, err)
	assert.Equal(t, "timer:tick?period=100", props["route.source.url"])
	assert.Equal(t, "inline", props["route.source.kafka.topic"])
	assert.Equal(t, "20", props["route.source.queue.size"])
	assert.Equal(t, "a,b", props["brokers"])
}

func TestLoadPropertiesMissingFile(t *testing.T) {
	_, err := LoadProperties(filepath.Join(t.TempDir(), "nope.yml"), nil)
	assert.Error(t, err)

	props, err := LoadProperties("", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", props["a"])
}

func TestLoadWorker(t *testing.T) {
	cfg, err := LoadWorker(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorker(), cfg)

	path := filepath.Join(t.TempDir(), "worker.yml")
	require.NoError(t, os.WriteFile(path, []byte("grpc_port: 8080\npipeline: p.yml\nlog_level: debug\n"), 0o644))
	t.Setenv("ROUTEX_METRICS_PORT", "0")
	t.Setenv("ROUTEX_LOG_JSON", "true")

	cfg, err = LoadWorker(path)
	require.NoError(t, err)
	assert.Equal(t, Worker{GRPCPort: 8080, MetricsPort: 0, Pipeline: "p.yml", LogLevel: "debug", LogJSON: true}, cfg)
}

func TestLoadWorkerRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yml")
	require.NoError(t, os.WriteFile(path, []byte("grpc_port: 70000\n"), 0o644))
	_, err := LoadWorker(path)
	assert.Error(t, err)
}
