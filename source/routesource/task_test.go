package routesource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routex/connect"
	"routex/router"
)

func startTask(t *testing.T, url string) *Task {
	t.Helper()
	task := New()
	require.NoError(t, task.Start(map[string]string{URLConf: url, TopicConf: "mytopic"}))
	t.Cleanup(func() { _ = task.Stop() })
	return task
}

func pollOne(t *testing.T, task *Task) *connect.SourceRecord {
	t.Helper()
	var rec *connect.SourceRecord
	require.Eventually(t, func() bool {
		recs, err := task.Poll()
		require.NoError(t, err)
		if len(recs) == 0 {
			return false
		}
		require.Len(t, recs, 1)
		rec = recs[0]
		return true
	}, 3*time.Second, 5*time.Millisecond)
	return rec
}

// send pushes an exchange into the task's route through its source endpoint.
func send(t *testing.T, task *Task, uri string, ex *router.Exchange) {
	t.Helper()
	ep, err := task.rc.Endpoint(uri)
	require.NoError(t, err)
	p, err := ep.CreateProducer()
	require.NoError(t, err)
	require.NoError(t, p.Process(context.Background(), ex))
}

func TestTimerSourceRecord(t *testing.T) {
	url := "timer:kafkaconnector?period=10&delay=0&repeatCount=1"
	task := startTask(t, url)

	rec := pollOne(t, task)
	assert.Equal(t, map[string]any{"filename": url}, rec.SourcePartition)
	assert.Contains(t, rec.SourceOffset, "position")
	assert.NotEmpty(t, rec.SourceOffset["position"])
	assert.Equal(t, "mytopic", rec.Topic)
	assert.Equal(t, connect.BytesSchema, rec.ValueSchema)
	assert.Nil(t, rec.Value)

	h, ok := rec.Headers.LastWithName(router.TimerNameHeader)
	require.True(t, ok)
	assert.Equal(t, "kafkaconnector", h.Value)
	assert.Equal(t, connect.StringSchema, h.Schema)

	h, ok = rec.Headers.LastWithName(router.TimerCounterHeader)
	require.True(t, ok)
	assert.Equal(t, connect.Int64Schema, h.Schema)
	assert.Equal(t, int64(1), h.Value)

	h, ok = rec.Headers.LastWithName(router.TimerFiredTimeHeader)
	require.True(t, ok)
	assert.Equal(t, connect.TimestampSchema, h.Schema)

	recs, err := task.Poll()
	require.NoError(t, err)
	assert.Nil(t, recs)
}

func TestPollReturnsAtMostOneRecord(t *testing.T) {
	task := startTask(t, "timer:burst?period=1&delay=0&repeatCount=3")

	q := task.consumer.(*router.QueuePollingConsumer)
	require.Eventually(t, func() bool { return q.Pending() == 3 }, 2*time.Second, 5*time.Millisecond)

	ids := map[any]bool{}
	for i := 0; i < 3; i++ {
		recs, err := task.Poll()
		require.NoError(t, err)
		require.Len(t, recs, 1)
		ids[recs[0].SourceOffset["position"]] = true
	}
	assert.Len(t, ids, 3)

	recs, err := task.Poll()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHeaderKinds(t *testing.T) {
	task := startTask(t, "direct:in")

	ts := time.Date(2024, time.December, 30, 22, 15, 7, 0, time.UTC)
	ex := router.NewExchange("direct:in")
	ex.Message.Body = []byte("payload")
	for k, v := range map[string]any{
		"string":    "s",
		"bool":      true,
		"byte":      int8(-3),
		"bytes":     []byte{1, 2},
		"date":      router.DateOf(ts),
		"decimal":   decimal.RequireFromString("12.345"),
		"double":    1.5,
		"float":     float32(2.5),
		"int":       int32(7),
		"long":      int64(8),
		"goint":     9,
		"short":     int16(10),
		"time":      router.TimeOfDayOf(ts),
		"timestamp": ts,
		"uint":      uint(1),
		"struct":    struct{}{},
		"nil":       nil,
	} {
		ex.Message.SetHeader(k, v)
	}
	send(t, task, "direct:in", ex)

	rec := pollOne(t, task)
	assert.Equal(t, []byte("payload"), rec.Value)
	assert.Equal(t, map[string]any{"filename": "direct:in"}, rec.SourcePartition)
	assert.Equal(t, map[string]any{"position": ex.ID}, rec.SourceOffset)

	want := map[string]struct {
		schema *connect.Schema
		value  any
	}{
		"string":    {connect.StringSchema, "s"},
		"bool":      {connect.BooleanSchema, true},
		"byte":      {connect.Int8Schema, int8(-3)},
		"bytes":     {connect.BytesSchema, []byte{1, 2}},
		"date":      {connect.StringSchema, "2024-12-30"},
		"decimal":   {connect.DecimalSchema(3), decimal.RequireFromString("12.345")},
		"double":    {connect.Float64Schema, 1.5},
		"float":     {connect.Float32Schema, float32(2.5)},
		"int":       {connect.Int32Schema, int32(7)},
		"long":      {connect.Int64Schema, int64(8)},
		"goint":     {connect.Int64Schema, int64(9)},
		"short":     {connect.Int16Schema, int16(10)},
		"time":      {connect.TimeSchema, time.Date(1970, time.January, 1, 22, 15, 7, 0, time.UTC)},
		"timestamp": {connect.TimestampSchema, ts},
	}
	assert.Equal(t, len(want), rec.Headers.Len())
	for k, w := range want {
		h, ok := rec.Headers.LastWithName(k)
		if !assert.True(t, ok, k) {
			continue
		}
		assert.Equal(t, w.schema, h.Schema, k)
		if d, isDec := w.value.(decimal.Decimal); isDec {
			assert.True(t, d.Equal(h.Value.(decimal.Decimal)), k)
			continue
		}
		assert.Equal(t, w.value, h.Value, k)
	}
	for _, k := range []string{"uint", "struct", "nil"} {
		_, ok := rec.Headers.LastWithName(k)
		assert.False(t, ok, k)
	}

	// headers come out in key order
	var keys []string
	for _, h := range rec.Headers.All() {
		keys = append(keys, h.Key)
	}
	assert.IsNonDecreasing(t, keys)
}

func TestStartFailures(t *testing.T) {
	cases := map[string]map[string]string{
		"missing url":    {TopicConf: "t"},
		"unknown scheme": {URLConf: "bogus:x", TopicConf: "t"},
		"unknown option": {URLConf: "timer:x?colour=red", TopicConf: "t"},
		"malformed url":  {URLConf: "::", TopicConf: "t"},
		"cannot start":   {URLConf: "nats:x?servers=nats://127.0.0.1:1&connectTimeout=100", TopicConf: "t"},
	}
	for name, props := range cases {
		t.Run(name, func(t *testing.T) {
			task := New()
			err := task.Start(props)
			require.Error(t, err)

			var ce *connect.ConnectError
			require.True(t, errors.As(err, &ce))
			assert.Contains(t, err.Error(), "failed to create and start routing context")

			assert.Nil(t, task.rc)
			require.NoError(t, task.Stop())
		})
	}
}

func TestFailedStartReleasesLocalEndpoint(t *testing.T) {
	task := New()
	require.Error(t, task.Start(map[string]string{
		URLConf:   "nats:x?servers=nats://127.0.0.1:1&connectTimeout=100",
		TopicConf: "t",
	}))

	// a fresh task can start normally afterwards
	task2 := startTask(t, "timer:again?period=10&delay=0&repeatCount=1")
	pollOne(t, task2)
}

func TestLifecycle(t *testing.T) {
	task := New()
	assert.Equal(t, "dev", task.Version())

	_, err := task.Poll()
	var ce *connect.ConnectError
	assert.True(t, errors.As(err, &ce), "poll before start")

	require.NoError(t, task.Stop(), "stop before start")

	require.NoError(t, task.Start(map[string]string{URLConf: "timer:x?period=10&delay=0", TopicConf: "t"}))
	assert.Error(t, task.Start(map[string]string{URLConf: "timer:y", TopicConf: "t"}), "double start")

	rc := task.rc
	require.NoError(t, task.Stop())
	require.NoError(t, task.Stop())
	assert.Equal(t, router.StatusStopped, rc.Status())

	_, err = task.Poll()
	assert.True(t, errors.As(err, &ce), "poll after stop")
}

var errStop = errors.New("stop refused")

// stopFailComponent creates endpoints whose consumers refuse to stop.
type stopFailComponent struct{}

func (stopFailComponent) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	return stopFailEndpoint(uri.String()), nil
}

type stopFailEndpoint string

func (e stopFailEndpoint) URI() string { return string(e) }

func (e stopFailEndpoint) CreateConsumer(router.Processor) (router.Consumer, error) {
	return stopFailConsumer{}, nil
}

func (e stopFailEndpoint) CreateProducer() (router.Producer, error) {
	return nil, router.ErrProducerUnsupported
}

type stopFailConsumer struct{}

func (stopFailConsumer) Start(context.Context) error { return nil }
func (stopFailConsumer) Stop() error                 { return errStop }

// failingPoller stops the wrapped consumer, then reports a failure anyway.
type failingPoller struct {
	router.PollingConsumer
}

func (f failingPoller) Stop() error {
	_ = f.PollingConsumer.Stop()
	return errors.New("poller stuck")
}

func TestStopSurfacesContextFailure(t *testing.T) {
	router.Register("stopfail", func() router.Component { return stopFailComponent{} })

	task := New()
	require.NoError(t, task.Start(map[string]string{URLConf: "stopfail:x", TopicConf: "t"}))

	err := task.Stop()
	var ce *connect.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.ErrorContains(t, err, "failed to stop routing context")
	assert.ErrorIs(t, err, errStop)
	assert.NotContains(t, err.Error(), "failed to stop polling consumer")
}

func TestStopJoinsConsumerAndContextFailures(t *testing.T) {
	router.Register("stopfail", func() router.Component { return stopFailComponent{} })

	task := New()
	require.NoError(t, task.Start(map[string]string{URLConf: "stopfail:y", TopicConf: "t"}))
	task.consumer = failingPoller{task.consumer}

	err := task.Stop()
	var ce *connect.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.ErrorContains(t, err, "failed to stop polling consumer")
	assert.ErrorContains(t, err, "poller stuck")
	assert.ErrorContains(t, err, "failed to stop routing context")
	assert.ErrorIs(t, err, errStop)

	require.NoError(t, task.Stop(), "second stop is a no-op")
}

func TestQueueOptionsReachLocalEndpoint(t *testing.T) {
	task := New()
	require.NoError(t, task.Start(map[string]string{
		URLConf:           "direct:in",
		TopicConf:         "t",
		QueueSizeConf:     "1",
		BlockWhenFullConf: "false",
	}))
	defer task.Stop()

	send(t, task, "direct:in", router.NewExchange("direct:in"))

	ep, err := task.rc.Endpoint("direct:in")
	require.NoError(t, err)
	p, err := ep.CreateProducer()
	require.NoError(t, err)
	assert.ErrorIs(t, p.Process(context.Background(), router.NewExchange("direct:in")), router.ErrQueueFull)
}

func TestRegistered(t *testing.T) {
	task, err := connect.NewSourceTask(Class)
	require.NoError(t, err)
	assert.IsType(t, &Task{}, task)
}
