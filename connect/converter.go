package connect

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

// ValueConverter turns a record key or value into the bytes written to the
// platform.
type ValueConverter interface {
	FromConnectData(topic string, s *Schema, v any) ([]byte, error)
}

// HeaderConverter turns one typed header into its wire bytes.
type HeaderConverter interface {
	FromConnectHeader(topic, key string, s *Schema, v any) ([]byte, error)
}

/*──────── registry ───────*/

var (
	valueConverters = map[string]func() ValueConverter{
		"bytearray": func() ValueConverter { return ByteArrayConverter{} },
		"string":    func() ValueConverter { return StringConverter{} },
		"json":      func() ValueConverter { return JSONConverter{SchemasEnabled: true} },
	}
	headerConverters = map[string]func() HeaderConverter{
		"simple": func() HeaderConverter { return SimpleHeaderConverter{} },
		"json":   func() HeaderConverter { return JSONConverter{} },
		"cbor":   func() HeaderConverter { return CBORHeaderConverter{} },
	}
)

// NewValueConverter returns the named converter; "" selects bytearray.
func NewValueConverter(name string) (ValueConverter, error) {
	if name == "" {
		name = "bytearray"
	}
	if f, ok := valueConverters[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("connect: unknown value converter %q", name)
}

// NewHeaderConverter returns the named converter; "" selects simple.
func NewHeaderConverter(name string) (HeaderConverter, error) {
	if name == "" {
		name = "simple"
	}
	if f, ok := headerConverters[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("connect: unknown header converter %q", name)
}

/*──────── bytearray ───────*/

// ByteArrayConverter passes raw bytes through. Strings are accepted as their
// UTF-8 bytes; anything else is a DataError.
type ByteArrayConverter struct{}

func (ByteArrayConverter) FromConnectData(_ string, _ *Schema, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, NewDataError(fmt.Sprintf("bytearray converter: unsupported value type %T", v), nil)
	}
}

/*──────── string ───────*/

type StringConverter struct{}

func (StringConverter) FromConnectData(_ string, s *Schema, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	str, err := FormatString(s, v)
	if err != nil {
		return nil, err
	}
	return []byte(str), nil
}

/*──────── simple (text) headers ───────*/

// SimpleHeaderConverter writes every header as its plain text form.
type SimpleHeaderConverter struct{}

func (SimpleHeaderConverter) FromConnectHeader(_, _ string, s *Schema, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	str, err := FormatString(s, v)
	if err != nil {
		return nil, err
	}
	return []byte(str), nil
}

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04:05.000Z"
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// FormatString renders a typed value the way the text converters do: numbers
// in decimal, bytes in base64, temporal values in ISO-8601 UTC.
func FormatString(s *Schema, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		switch schemaName(s) {
		case DateLogicalName:
			return x.UTC().Format(dateLayout), nil
		case TimeLogicalName:
			return x.UTC().Format(timeLayout), nil
		default:
			return x.UTC().Format(timestampLayout), nil
		}
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", NewDataError(fmt.Sprintf("cannot format %T as string", v), nil)
	}
}

func schemaName(s *Schema) string {
	if s == nil {
		return ""
	}
	return s.Name
}

/*──────── json ───────*/

// JSONConverter writes values (and headers) as JSON. With SchemasEnabled the
// payload is wrapped in a {"schema":..., "payload":...} envelope.
type JSONConverter struct {
	SchemasEnabled bool
}

type jsonEnvelope struct {
	Schema  *Schema `json:"schema"`
	Payload any     `json:"payload"`
}

func (c JSONConverter) FromConnectData(_ string, s *Schema, v any) ([]byte, error) {
	p, err := logicalPayload(s, v)
	if err != nil {
		return nil, err
	}
	if c.SchemasEnabled {
		return sonic.Marshal(jsonEnvelope{Schema: s, Payload: p})
	}
	return sonic.Marshal(p)
}

func (c JSONConverter) FromConnectHeader(topic, _ string, s *Schema, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return c.FromConnectData(topic, s, v)
}

/*──────── cbor ───────*/

type CBORHeaderConverter struct{}

func (CBORHeaderConverter) FromConnectHeader(_, _ string, s *Schema, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	p, err := logicalPayload(s, v)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(p)
}

// logicalPayload maps logical types onto their primitive representation:
// Date as days since epoch, Time as millis of day, Timestamp as epoch millis,
// Decimal as its string form.
func logicalPayload(s *Schema, v any) (any, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		switch schemaName(s) {
		case DateLogicalName:
			return int32(x.UTC().Unix() / 86400), nil
		case TimeLogicalName:
			u := x.UTC()
			return int32(u.Hour()*3_600_000 + u.Minute()*60_000 + u.Second()*1000 + u.Nanosecond()/1_000_000), nil
		default:
			return x.UnixMilli(), nil
		}
	case nil, string, bool, int8, int16, int32, int64, int, float32, float64, []byte:
		return x, nil
	default:
		return nil, NewDataError(fmt.Sprintf("unsupported value type %T", v), nil)
	}
}
