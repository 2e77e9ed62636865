// Package manifest is the pipeline manifest: which source task to run, how
// to transform and convert its records, where to send them and where to keep
// offsets.
package manifest

import "routex/internal/offset"

type debugSection struct {
	PerRecordDelayMS int  `yaml:"per_record_delay_ms"`
	PrintCounter     bool `yaml:"print_counter"`
	PrintValue       bool `yaml:"print_value"`
	AckBatchSize     int  `yaml:"ack_batch_size"`
	AckFlushMS       int  `yaml:"ack_flush_ms"`
}

// Source names a registered source task and its properties. Config points
// to an optional YAML properties file; inline properties override it.
type Source struct {
	Class      string            `yaml:"class" validate:"required"`
	Config     string            `yaml:"config"`
	Properties map[string]string `yaml:"properties"`
}

// Transform is one single message transform. Every key besides name and
// type is an option of the transform.
type Transform struct {
	Name    string         `yaml:"name" validate:"required"`
	Type    string         `yaml:"type" validate:"required"`
	Options map[string]any `yaml:",inline"`
}

type Converters struct {
	Key    string `yaml:"key" validate:"omitempty,oneof=bytearray string json"`
	Value  string `yaml:"value" validate:"omitempty,oneof=bytearray string json"`
	Header string `yaml:"header" validate:"omitempty,oneof=simple json cbor"`
}

type Offsets struct {
	Store           offset.StoreConfig `yaml:",inline"`
	FlushIntervalMS int                `yaml:"flush_interval_ms" validate:"min=0"`
}

type Errors struct {
	Tolerance string `yaml:"tolerance" validate:"omitempty,oneof=none all"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Name          string `yaml:"name"`

	Source         Source `yaml:"source"`
	PollIntervalMS int    `yaml:"poll_interval_ms" validate:"min=0"`

	// Ordered list of transforms applied between source and sinks.
	Transforms []Transform `yaml:"transforms" validate:"dive"`
	Converters Converters  `yaml:"converters"`

	Sinks       []string       `yaml:"sinks" validate:"required,min=1"`
	SinkConfigs map[string]any `yaml:"sink_configs"`
	Debug       debugSection   `yaml:"debug"`

	Offsets Offsets `yaml:"offsets"`
	Errors  Errors  `yaml:"errors"`
}

// Tolerant reports whether failed records are skipped instead of failing the
// pipeline.
func (f *File) Tolerant() bool { return f.Errors.Tolerance == "all" }
