package connect

import "strconv"

type Type string

const (
	TypeInt8    Type = "int8"
	TypeInt16   Type = "int16"
	TypeInt32   Type = "int32"
	TypeInt64   Type = "int64"
	TypeFloat32 Type = "float32"
	TypeFloat64 Type = "float64"
	TypeBoolean Type = "boolean"
	TypeString  Type = "string"
	TypeBytes   Type = "bytes"
)

// Logical schema names. They match the names used by the platform's own
// converters so records stay readable by its tooling.
const (
	DecimalLogicalName   = "org.apache.kafka.connect.data.Decimal"
	DateLogicalName      = "org.apache.kafka.connect.data.Date"
	TimeLogicalName      = "org.apache.kafka.connect.data.Time"
	TimestampLogicalName = "org.apache.kafka.connect.data.Timestamp"

	DecimalScaleParam = "scale"
)

type Schema struct {
	Type       Type              `json:"type"`
	Name       string            `json:"name,omitempty"`
	Optional   bool              `json:"optional"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

var (
	Int8Schema    = &Schema{Type: TypeInt8}
	Int16Schema   = &Schema{Type: TypeInt16}
	Int32Schema   = &Schema{Type: TypeInt32}
	Int64Schema   = &Schema{Type: TypeInt64}
	Float32Schema = &Schema{Type: TypeFloat32}
	Float64Schema = &Schema{Type: TypeFloat64}
	BooleanSchema = &Schema{Type: TypeBoolean}
	StringSchema  = &Schema{Type: TypeString}
	BytesSchema   = &Schema{Type: TypeBytes}

	OptionalBytesSchema  = &Schema{Type: TypeBytes, Optional: true}
	OptionalStringSchema = &Schema{Type: TypeString, Optional: true}

	DateSchema      = &Schema{Type: TypeInt32, Name: DateLogicalName}
	TimeSchema      = &Schema{Type: TypeInt32, Name: TimeLogicalName}
	TimestampSchema = &Schema{Type: TypeInt64, Name: TimestampLogicalName}
)

// DecimalSchema returns the logical decimal schema for the given scale.
func DecimalSchema(scale int32) *Schema {
	return &Schema{
		Type:       TypeBytes,
		Name:       DecimalLogicalName,
		Parameters: map[string]string{DecimalScaleParam: strconv.FormatInt(int64(scale), 10)},
	}
}

func (s *Schema) IsLogical() bool { return s != nil && s.Name != "" }

func (s *Schema) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.Name != "" {
		return string(s.Type) + "(" + s.Name + ")"
	}
	return string(s.Type)
}
