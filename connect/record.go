package connect

import "time"

// SourceRecord is one unit of data handed from a source task to the runtime.
// SourcePartition identifies the stream the record came from and SourceOffset
// its position in that stream; both must be serialisable as JSON.
type SourceRecord struct {
	SourcePartition map[string]any
	SourceOffset    map[string]any

	Topic     string
	Partition *int32

	KeySchema   *Schema
	Key         any
	ValueSchema *Schema
	Value       any

	Timestamp time.Time
	Headers   *Headers
}

func NewSourceRecord(partition, offset map[string]any, topic string, valueSchema *Schema, value any) *SourceRecord {
	return &SourceRecord{
		SourcePartition: partition,
		SourceOffset:    offset,
		Topic:           topic,
		ValueSchema:     valueSchema,
		Value:           value,
		Headers:         NewHeaders(),
	}
}

// NewRecord copies r with a different topic and value, sharing nothing mutable
// except the partition and offset maps.
func (r *SourceRecord) NewRecord(topic string, valueSchema *Schema, value any) *SourceRecord {
	out := *r
	out.Topic = topic
	out.ValueSchema = valueSchema
	out.Value = value
	out.Headers = r.Headers.Clone()
	return &out
}
