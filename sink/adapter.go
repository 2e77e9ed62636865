package sink

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// Header is one converted record header.
type Header struct {
	Key   string
	Value []byte
}

// Record is a source record after conversion: everything a sink writes is
// bytes.
type Record struct {
	Seq       uint64 // assigned by the pipeline, echoed back in acks
	Topic     string
	Partition *int32
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time

	SourcePartition map[string]any
	SourceOffset    map[string]any
}

// EmitFn is what a sink calls to notify the pipeline that a record
// (or a batch of records) has been durably processed.
type EmitFn func(*Record)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config ⇒ struct
	Push(*Record) error  // consume one record
	Close() error        // idempotent
}

// AckAware is *optional*; sinks that acknowledge asynchronously implement
// it. Records pushed to other sinks count as acked when Push returns nil.
type AckAware interface {
	BindAck(EmitFn)
}

/*──────── config decoding ───────*/

var validate = validator.New()

// Decode fills out from raw, which is either already of out's type or a
// generic map taken from a manifest, then validates it.
func Decode[T any](raw any, out *T) error {
	switch v := raw.(type) {
	case T:
		*out = v
	case *T:
		*out = *v
	case nil:
		var zero T
		*out = zero
	default:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           out,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(raw); err != nil {
			return err
		}
	}
	return validate.Struct(out)
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
