package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routex/connect"
)

func record(topic, value string) *connect.SourceRecord {
	r := connect.NewSourceRecord(
		map[string]any{"filename": "timer://tick"},
		map[string]any{"position": "ex-1"},
		topic, connect.BytesSchema, []byte(value))
	r.Headers.AddString("TimerName", "tick").AddLong("TimerCounter", 3)
	return r
}

func TestFilter(t *testing.T) {
	f, err := New("filter", map[string]any{"expr": `headers.TimerCounter > 2 && value startsWith "ok"`})
	require.NoError(t, err)

	out, err := f.Apply(record("t", "ok-1"))
	require.NoError(t, err)
	assert.NotNil(t, out)

	out, err = f.Apply(record("t", "nope"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestFilterSeesPartitionAndOffset(t *testing.T) {
	f, err := New("filter", map[string]any{"expr": `partition.filename == "timer://tick" && offset.position != ""`})
	require.NoError(t, err)
	out, err := f.Apply(record("t", ""))
	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestFilterRejects(t *testing.T) {
	_, err := New("filter", map[string]any{})
	assert.Error(t, err)
	_, err = New("filter", map[string]any{"expr": `topic +`})
	assert.Error(t, err)
	_, err = New("filter", map[string]any{"expr": `topic`})
	assert.Error(t, err, "non-boolean expression")
}

func TestInsertAndDropHeaders(t *testing.T) {
	ins, err := New("insert_header", map[string]any{"header": "source", "value": "routex"})
	require.NoError(t, err)
	drop, err := New("drop_headers", map[string]any{"headers": []any{"TimerName", "TimerCounter"}})
	require.NoError(t, err)

	r, err := ins.Apply(record("t", "v"))
	require.NoError(t, err)
	r, err = drop.Apply(r)
	require.NoError(t, err)

	require.Equal(t, 1, r.Headers.Len())
	h, ok := r.Headers.LastWithName("source")
	require.True(t, ok)
	assert.Equal(t, "routex", h.Value)
	assert.Equal(t, connect.StringSchema, h.Schema)

	_, err = New("drop_headers", map[string]any{"headers": []any{}})
	assert.Error(t, err)
}

func TestSetTopic(t *testing.T) {
	st, err := New("set_topic", map[string]any{"regex": `(.*)-raw`, "replacement": "$1-clean"})
	require.NoError(t, err)

	r, err := st.Apply(record("orders-raw", ""))
	require.NoError(t, err)
	assert.Equal(t, "orders-clean", r.Topic)

	r, err = st.Apply(record("orders-raw-2", ""))
	require.NoError(t, err)
	assert.Equal(t, "orders-raw-2", r.Topic, "only whole-topic matches are renamed")

	_, err = New("set_topic", map[string]any{"regex": "(", "replacement": "x"})
	assert.Error(t, err)
}

func TestChainStopsAtDrop(t *testing.T) {
	var c Chain
	keep, err := New("filter", map[string]any{"expr": `topic == "keep"`})
	require.NoError(t, err)
	ins, err := New("insert_header", map[string]any{"header": "seen", "value": "yes"})
	require.NoError(t, err)
	c.Add("only-keep", keep)
	c.Add("mark", ins)
	assert.Equal(t, 2, c.Len())

	dropped := record("other", "")
	out, err := c.Apply(dropped)
	require.NoError(t, err)
	assert.Nil(t, out)
	_, marked := dropped.Headers.LastWithName("seen")
	assert.False(t, marked)

	out, err = c.Apply(record("keep", ""))
	require.NoError(t, err)
	_, marked = out.Headers.LastWithName("seen")
	assert.True(t, marked)
}

func TestUnknownTypeAndOption(t *testing.T) {
	_, err := New("uppercase", nil)
	assert.Error(t, err)
	_, err = New("insert_header", map[string]any{"header": "a", "colour": "red"})
	assert.Error(t, err)
}
