package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	u, err := ParseURI("timer:tick?period=250&delay=1s&repeatCount=3")
	require.NoError(t, err)

	assert.Equal(t, "timer", u.Scheme())
	assert.Equal(t, "tick", u.Name())
	assert.Equal(t, 250*time.Millisecond, u.Duration("period", 0))
	assert.Equal(t, time.Second, u.Duration("delay", 0))
	assert.Equal(t, 3, u.Int("repeatCount", 0))
	assert.NoError(t, u.Err())
}

func TestParseURIHierarchical(t *testing.T) {
	u, err := ParseURI("HTTP://0.0.0.0:8080/events?method=POST")
	require.NoError(t, err)

	assert.Equal(t, "http", u.Scheme())
	assert.Equal(t, "0.0.0.0:8080", u.Host())
	assert.Equal(t, "/events", u.Path())
	assert.Equal(t, "0.0.0.0:8080/events", u.Name())
	assert.Equal(t, "POST", u.Param("method", "GET"))
}

func TestParseURIInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "no-scheme", "timer:x?%zz"} {
		_, err := ParseURI(raw)
		assert.ErrorIs(t, err, ErrInvalidURI, raw)
	}
}

func TestURIErrCollectsBadValuesAndUnknownKeys(t *testing.T) {
	u, err := ParseURI("timer:x?period=soon&bogus=1&other=2")
	require.NoError(t, err)

	assert.Equal(t, time.Second, u.Duration("period", time.Second))
	assert.Equal(t, []string{"bogus", "other"}, u.Unused())

	err = u.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOption)
	assert.Contains(t, err.Error(), "period")
	assert.Contains(t, err.Error(), "bogus, other")
}

func TestURIList(t *testing.T) {
	u, err := ParseURI("kafka:orders?brokers=a:9092, b:9092,,c:9092")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092", "c:9092"}, u.List("brokers"))
	assert.Nil(t, u.List("missing"))
}

func TestURIRequire(t *testing.T) {
	u, err := ParseURI("nats:subject")
	require.NoError(t, err)
	u.Require("servers", u.Param("servers", ""))
	assert.ErrorContains(t, u.Err(), "servers is required")
}
