package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest_ResolvesRelativeSourceConfigAndSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v1
name: ticks
source:
  class: route-source
  config: route_source.yml
  properties:
    route.source.kafka.topic: ticks
transforms:
  - name: only-even
    type: filter
    expr: headers.TimerCounter % 2 == 0
sinks: [stdout]
offsets:
  type: file
  path: offsets.json
  flush_interval_ms: 500
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}

	cfg, abs, err := LoadManifest(filepath.Join(dir, "pipeline.yml"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want schema %s, got %s", SupportedSchema, cfg.SchemaVersion)
	}
	if abs != filepath.Join(dir, "route_source.yml") {
		t.Fatalf("want absolute properties path, got %q", abs)
	}
	if cfg.Source.Properties["route.source.kafka.topic"] != "ticks" {
		t.Fatalf("inline properties not parsed: %v", cfg.Source.Properties)
	}
	if len(cfg.Transforms) != 1 || cfg.Transforms[0].Options["expr"] != "headers.TimerCounter % 2 == 0" {
		t.Fatalf("transform options not inlined: %+v", cfg.Transforms)
	}
	if cfg.Offsets.Store.Type != "file" || cfg.Offsets.Store.Path != "offsets.json" || cfg.Offsets.FlushIntervalMS != 500 {
		t.Fatalf("offsets not parsed: %+v", cfg.Offsets)
	}
}

func TestLoadManifest_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v999
source: { class: route-source }
sinks: [stdout]
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	_, _, err := LoadManifest(filepath.Join(dir, "pipeline.yml"))
	if err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestParseManifest_Validates(t *testing.T) {
	for name, raw := range map[string]string{
		"no class":      "sinks: [stdout]\n",
		"no sinks":      "source: { class: route-source }\n",
		"bad tolerance": "source: { class: x }\nsinks: [stdout]\nerrors: { tolerance: some }\n",
		"bad converter": "source: { class: x }\nsinks: [stdout]\nconverters: { value: avro }\n",
		"file w/o path": "source: { class: x }\nsinks: [stdout]\noffsets: { type: file }\n",
		"unnamed stage": "source: { class: x }\nsinks: [stdout]\ntransforms: [{ type: filter }]\n",
		"not yaml":      "source: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ParseManifest([]byte(raw), "."); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
