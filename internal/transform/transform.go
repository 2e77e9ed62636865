// Package transform holds the single message transforms a pipeline applies
// to each source record before conversion. A transform may rewrite a record
// in place or drop it.
package transform

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"routex/connect"
)

// Transform returns the record to pass on, or nil to drop it.
type Transform interface {
	Apply(*connect.SourceRecord) (*connect.SourceRecord, error)
}

type Factory func(opts map[string]any) (Transform, error)

var reg = map[string]Factory{}

func Register(kind string, f Factory) { reg[kind] = f }

func New(kind string, opts map[string]any) (Transform, error) {
	f, ok := reg[kind]
	if !ok {
		return nil, fmt.Errorf("unknown transform type %q", kind)
	}
	return f(opts)
}

/*──────── chain ───────*/

type stage struct {
	name string
	t    Transform
}

// Chain applies transforms in order and stops at the first drop.
type Chain struct {
	stages []stage
}

func (c *Chain) Add(name string, t Transform) { c.stages = append(c.stages, stage{name: name, t: t}) }

func (c *Chain) Len() int { return len(c.stages) }

func (c *Chain) Apply(r *connect.SourceRecord) (*connect.SourceRecord, error) {
	var err error
	for _, s := range c.stages {
		if r, err = s.t.Apply(r); err != nil {
			return nil, fmt.Errorf("transform %s: %w", s.name, err)
		}
		if r == nil {
			return nil, nil
		}
	}
	return r, nil
}

/*──────── options ───────*/

var validate = validator.New()

func decode(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return err
	}
	return validate.Struct(out)
}
