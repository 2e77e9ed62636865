package transform

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"routex/connect"
)

func init() {
	Register("filter", newFilter)
	Register("insert_header", newInsertHeader)
	Register("drop_headers", newDropHeaders)
	Register("set_topic", newSetTopic)
}

/*──────── filter ───────*/

// filter keeps records for which the expression is true. The expression sees
// topic, key and value as text, headers (last value per key), partition and
// offset.
type filter struct {
	program *vm.Program
}

func newFilter(opts map[string]any) (Transform, error) {
	var cfg struct {
		Expr string `mapstructure:"expr" validate:"required"`
	}
	if err := decode(opts, &cfg); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	program, err := expr.Compile(cfg.Expr, expr.Env(exprEnv(&connect.SourceRecord{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("filter: failed to compile expression: %w", err)
	}
	return &filter{program: program}, nil
}

func (f *filter) Apply(r *connect.SourceRecord) (*connect.SourceRecord, error) {
	out, err := vm.Run(f.program, exprEnv(r))
	if err != nil {
		return nil, fmt.Errorf("filter: failed to evaluate expression: %w", err)
	}
	if keep, _ := out.(bool); !keep {
		return nil, nil
	}
	return r, nil
}

func exprEnv(r *connect.SourceRecord) map[string]any {
	headers := make(map[string]any, r.Headers.Len())
	for _, h := range r.Headers.All() {
		headers[h.Key] = plain(h.Value)
	}
	partition, offset := r.SourcePartition, r.SourceOffset
	if partition == nil {
		partition = map[string]any{}
	}
	if offset == nil {
		offset = map[string]any{}
	}
	return map[string]any{
		"topic":     r.Topic,
		"key":       text(r.Key),
		"value":     text(r.Value),
		"headers":   headers,
		"partition": partition,
		"offset":    offset,
	}
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func plain(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

/*──────── insert_header ───────*/

type insertHeader struct {
	Header string `mapstructure:"header" validate:"required"`
	Value  string `mapstructure:"value"`
}

func newInsertHeader(opts map[string]any) (Transform, error) {
	t := &insertHeader{}
	if err := decode(opts, t); err != nil {
		return nil, fmt.Errorf("insert_header: %w", err)
	}
	return t, nil
}

func (t *insertHeader) Apply(r *connect.SourceRecord) (*connect.SourceRecord, error) {
	if r.Headers == nil {
		r.Headers = connect.NewHeaders()
	}
	r.Headers.AddString(t.Header, t.Value)
	return r, nil
}

/*──────── drop_headers ───────*/

type dropHeaders struct {
	Headers []string `mapstructure:"headers" validate:"required,min=1,dive,required"`
}

func newDropHeaders(opts map[string]any) (Transform, error) {
	t := &dropHeaders{}
	if err := decode(opts, t); err != nil {
		return nil, fmt.Errorf("drop_headers: %w", err)
	}
	return t, nil
}

func (t *dropHeaders) Apply(r *connect.SourceRecord) (*connect.SourceRecord, error) {
	if r.Headers == nil {
		return r, nil
	}
	for _, k := range t.Headers {
		r.Headers.Remove(k)
	}
	return r, nil
}

/*──────── set_topic ───────*/

// setTopic renames topics that match regex as a whole. Others pass unchanged.
type setTopic struct {
	re          *regexp.Regexp
	replacement string
}

func newSetTopic(opts map[string]any) (Transform, error) {
	var cfg struct {
		Regex       string `mapstructure:"regex" validate:"required"`
		Replacement string `mapstructure:"replacement" validate:"required"`
	}
	if err := decode(opts, &cfg); err != nil {
		return nil, fmt.Errorf("set_topic: %w", err)
	}
	re, err := regexp.Compile("^(?:" + cfg.Regex + ")$")
	if err != nil {
		return nil, fmt.Errorf("set_topic: %w", err)
	}
	return &setTopic{re: re, replacement: cfg.Replacement}, nil
}

func (t *setTopic) Apply(r *connect.SourceRecord) (*connect.SourceRecord, error) {
	if t.re.MatchString(r.Topic) {
		r.Topic = t.re.ReplaceAllString(r.Topic, t.replacement)
	}
	return r, nil
}
