// Package routesource is a source task backed by a single route: it reads
// from any router endpoint and turns every exchange into one source record.
package routesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"routex/connect"
	"routex/internal/logging"
	"routex/internal/telemetry"
	"routex/internal/version"
	"routex/router"

	// endpoint components selectable through route.source.url
	_ "routex/router/file"
	_ "routex/router/http"
	_ "routex/router/kafka"
	_ "routex/router/mqtt"
	_ "routex/router/nats"
	_ "routex/router/pgevent"
	_ "routex/router/redis"
)

// Class is the name the task registers under.
const Class = "route-source"

func init() {
	connect.RegisterSourceTask(Class, func() connect.SourceTask { return New() })
}

type Task struct {
	log *slog.Logger

	mu       sync.Mutex
	cfg      Config
	rc       *router.Context
	consumer router.PollingConsumer
	started  bool
}

func New() *Task {
	return &Task{log: logging.L().With("component", "routesource")}
}

func (t *Task) Version() string { return version.Version }

// Start builds a routing context holding exactly one route, from the
// configured URL to LocalURL, and starts it together with a polling consumer
// on LocalURL. On failure nothing is left running.
func (t *Task) Start(props map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return connect.NewConnectError("task already started", nil)
	}

	t.log.Info("starting route source task")
	cfg, err := ParseConfig(props)
	if err != nil {
		return connect.NewConnectError("failed to create and start routing context", err)
	}

	rc, pc, err := startRouting(cfg, t.log)
	if err != nil {
		return connect.NewConnectError("failed to create and start routing context", err)
	}

	t.cfg, t.rc, t.consumer, t.started = cfg, rc, pc, true
	t.log = t.log.With("topic", cfg.Topic)
	t.log.Info("route source task started")
	return nil
}

func startRouting(cfg Config, log *slog.Logger) (*router.Context, router.PollingConsumer, error) {
	local := cfg.LocalEndpoint()
	rc := router.NewContext(router.WithName(cfg.Topic))

	log.Info("creating route", "from", cfg.URL, "to", local)
	if err := rc.AddRoute(router.From(cfg.URL).To(local)); err != nil {
		return nil, nil, err
	}

	ep, err := rc.Endpoint(local)
	if err != nil {
		return nil, nil, err
	}
	pe, ok := ep.(router.PollingEndpoint)
	if !ok {
		return nil, nil, router.ErrPollingUnsupported
	}
	pc, err := pe.CreatePollingConsumer()
	if err != nil {
		return nil, nil, err
	}
	if err := pc.Start(context.Background()); err != nil {
		return nil, nil, err
	}

	log.Info("starting routing context")
	if err := rc.Start(context.Background()); err != nil {
		_ = pc.Stop()
		return nil, nil, err
	}
	log.Info("routing context started")
	return rc, pc, nil
}

// Poll returns at most one record, or nil when nothing is pending. It never
// blocks.
func (t *Task) Poll() ([]*connect.SourceRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil, connect.NewConnectError("poll called on a task that is not started", nil)
	}

	ex := t.consumer.ReceiveNoWait()
	if ex == nil {
		telemetry.TaskPolls.WithLabelValues(t.cfg.Topic, "empty").Inc()
		return nil, nil
	}
	telemetry.TaskPolls.WithLabelValues(t.cfg.Topic, "record").Inc()

	t.log.Debug("received exchange",
		"from_endpoint", ex.FromEndpoint,
		"exchange_id", ex.ID,
		"message_id", ex.Message.ID,
		"headers", len(ex.Message.Headers))

	rec := connect.NewSourceRecord(
		map[string]any{"filename": ex.FromEndpoint},
		map[string]any{"position": ex.ID},
		t.cfg.Topic,
		connect.BytesSchema,
		ex.Message.Body,
	)
	t.setHeaders(rec.Headers, ex.Message)
	return []*connect.SourceRecord{rec}, nil
}

// setHeaders adds every exchange header whose value kind has a typed header,
// in key order. Other values are dropped.
func (t *Task) setHeaders(hs *connect.Headers, m *router.Message) {
	if !m.HasHeaders() {
		return
	}
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !addHeader(hs, k, m.Headers[k]) {
			telemetry.DroppedHeaders.WithLabelValues(t.cfg.Topic).Inc()
			t.log.Debug("header dropped: unsupported value kind", "key", k, "type", fmt.Sprintf("%T", m.Headers[k]))
		}
	}
}

func addHeader(hs *connect.Headers, key string, v any) bool {
	switch x := v.(type) {
	case string:
		hs.AddString(key, x)
	case bool:
		hs.AddBoolean(key, x)
	case int8:
		hs.AddByte(key, x)
	case []byte:
		hs.AddBytes(key, x)
	case router.Date:
		hs.AddString(key, x.String())
	case decimal.Decimal:
		hs.AddDecimal(key, x)
	case float64:
		hs.AddDouble(key, x)
	case float32:
		hs.AddFloat(key, x)
	case int32:
		hs.AddInt(key, x)
	case int64:
		hs.AddLong(key, x)
	case int:
		hs.AddLong(key, int64(x))
	case int16:
		hs.AddShort(key, x)
	case router.TimeOfDay:
		hs.AddTime(key, x.Time())
	case time.Time:
		hs.AddTimestamp(key, x)
	default:
		return false
	}
	return true
}

// Stop stops the polling consumer, then the routing context. Both are
// attempted; their failures are joined. Stopping a task that is not running
// does nothing.
func (t *Task) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false

	var errs []error
	if err := t.consumer.Stop(); err != nil {
		errs = append(errs, connect.NewConnectError("failed to stop polling consumer", err))
	}
	if err := t.rc.Stop(); err != nil {
		errs = append(errs, connect.NewConnectError("failed to stop routing context", err))
	}
	t.log.Info("route source task stopped")
	return errors.Join(errs...)
}
