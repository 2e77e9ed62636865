package connect

import (
	"time"

	"github.com/shopspring/decimal"
)

type Header struct {
	Key    string
	Schema *Schema
	Value  any
}

// Headers is an ordered, multi-valued header collection. Adders return the
// receiver so calls can be chained.
type Headers struct {
	hs []Header
}

func NewHeaders() *Headers { return &Headers{} }

func (h *Headers) add(key string, s *Schema, v any) *Headers {
	h.hs = append(h.hs, Header{Key: key, Schema: s, Value: v})
	return h
}

func (h *Headers) AddString(key, v string) *Headers       { return h.add(key, StringSchema, v) }
func (h *Headers) AddBoolean(key string, v bool) *Headers { return h.add(key, BooleanSchema, v) }
func (h *Headers) AddByte(key string, v int8) *Headers    { return h.add(key, Int8Schema, v) }
func (h *Headers) AddShort(key string, v int16) *Headers  { return h.add(key, Int16Schema, v) }
func (h *Headers) AddInt(key string, v int32) *Headers    { return h.add(key, Int32Schema, v) }
func (h *Headers) AddLong(key string, v int64) *Headers   { return h.add(key, Int64Schema, v) }
func (h *Headers) AddFloat(key string, v float32) *Headers {
	return h.add(key, Float32Schema, v)
}
func (h *Headers) AddDouble(key string, v float64) *Headers {
	return h.add(key, Float64Schema, v)
}

// AddBytes stores a copy of v.
func (h *Headers) AddBytes(key string, v []byte) *Headers {
	var cp []byte
	if v != nil {
		cp = append(make([]byte, 0, len(v)), v...)
	}
	return h.add(key, BytesSchema, cp)
}

func (h *Headers) AddDecimal(key string, v decimal.Decimal) *Headers {
	return h.add(key, DecimalSchema(-v.Exponent()), v)
}

// AddDate keeps only the calendar date of v, at midnight UTC.
func (h *Headers) AddDate(key string, v time.Time) *Headers {
	y, m, d := v.Date()
	return h.add(key, DateSchema, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// AddTime keeps only the time of day of v, anchored on the epoch date in UTC.
func (h *Headers) AddTime(key string, v time.Time) *Headers {
	return h.add(key, TimeSchema, time.Date(1970, time.January, 1,
		v.Hour(), v.Minute(), v.Second(), v.Nanosecond(), time.UTC))
}

func (h *Headers) AddTimestamp(key string, v time.Time) *Headers {
	return h.add(key, TimestampSchema, v.UTC())
}

func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.hs)
}

// All returns the headers in insertion order. The slice must not be modified.
func (h *Headers) All() []Header {
	if h == nil {
		return nil
	}
	return h.hs
}

func (h *Headers) LastWithName(key string) (Header, bool) {
	if h == nil {
		return Header{}, false
	}
	for i := len(h.hs) - 1; i >= 0; i-- {
		if h.hs[i].Key == key {
			return h.hs[i], true
		}
	}
	return Header{}, false
}

// Remove drops every header with the given key.
func (h *Headers) Remove(key string) *Headers {
	if h == nil {
		return h
	}
	out := h.hs[:0]
	for _, hd := range h.hs {
		if hd.Key != key {
			out = append(out, hd)
		}
	}
	h.hs = out
	return h
}

func (h *Headers) Clone() *Headers {
	if h == nil {
		return NewHeaders()
	}
	return &Headers{hs: append([]Header(nil), h.hs...)}
}
