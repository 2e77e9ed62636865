package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRouteFailsFast(t *testing.T) {
	cases := []struct {
		name string
		def  *RouteDefinition
		err  error
	}{
		{"unknown scheme", From("bogus:thing").To("direct:end"), ErrUnknownComponent},
		{"unknown option", From("timer:t?colour=red").To("direct:end"), ErrUnknownOption},
		{"malformed uri", From("::").To("direct:end"), ErrInvalidURI},
		{"no destination", From("timer:t"), ErrInvalidURI},
		{"no source", From("").To("direct:end"), ErrInvalidURI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewContext()
			assert.ErrorIs(t, c.AddRoute(tc.def), tc.err)
		})
	}
}

func TestTimerRouteToPollingConsumer(t *testing.T) {
	c := NewContext(WithName("test"))
	require.NoError(t, c.AddRoute(From("timer:tick?period=10&delay=0&repeatCount=2").To("direct:end")))

	pc := pollingConsumer(t, c, "direct:end")
	require.NoError(t, pc.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StatusStarted, c.Status())

	var got []*Exchange
	require.Eventually(t, func() bool {
		if ex := pc.ReceiveNoWait(); ex != nil {
			got = append(got, ex)
		}
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, pc.Stop())
	require.NoError(t, c.Stop())
	assert.Equal(t, StatusStopped, c.Status())

	first := got[0]
	assert.Equal(t, "timer:tick?period=10&delay=0&repeatCount=2", first.FromEndpoint)
	assert.Equal(t, "tick", first.Message.Headers[TimerNameHeader])
	assert.Equal(t, int64(1), first.Message.Headers[TimerCounterHeader])
	assert.Equal(t, int64(10), first.Message.Headers[TimerPeriodHeader])
	assert.IsType(t, time.Time{}, first.Message.Headers[TimerFiredTimeHeader])
	assert.Equal(t, int64(2), got[1].Message.Headers[TimerCounterHeader])
	assert.NotEqual(t, first.ID, got[1].ID)
}

func TestContextLifecycle(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Stop(), "stop before start is a no-op")

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrContextStarted)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.Equal(t, StatusStopped, c.Status())
}

func TestContextRunsPastStartContext(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.AddRoute(From("timer:tick?period=5&delay=0").To("direct:end")))
	pc := pollingConsumer(t, c, "direct:end")
	require.NoError(t, pc.Start(context.Background()))
	defer pc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()
	defer c.Stop()

	assert.NotNil(t, pc.ReceiveTimeout(context.Background(), time.Second))
	assert.NotNil(t, pc.ReceiveTimeout(context.Background(), time.Second))
}

func TestRouteAddedToStartedContext(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	pc := pollingConsumer(t, c, "direct:late")
	require.NoError(t, pc.Start(context.Background()))
	defer pc.Stop()

	require.NoError(t, c.AddRoute(From("timer:late?period=5&delay=0&repeatCount=1").To("direct:late")))
	assert.NotNil(t, pc.ReceiveTimeout(context.Background(), time.Second))
}

func TestRouteFailsWithoutConsumerButKeepsRunning(t *testing.T) {
	c := NewContext()
	var seen int
	Register("count", func() Component { return countingComponent{n: &seen} })

	require.NoError(t, c.AddRoute(From("timer:t?period=5&delay=0&repeatCount=3").To("direct:void", "count:x")))
	require.NoError(t, c.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Stop())

	// direct:void has no consumer so every exchange stops there
	assert.Zero(t, seen)
}

type countingComponent struct{ n *int }

func (c countingComponent) CreateEndpoint(uri *URI) (Endpoint, error) {
	return countingEndpoint{uri: uri.String(), n: c.n}, nil
}

type countingEndpoint struct {
	uri string
	n   *int
}

func (e countingEndpoint) URI() string { return e.uri }
func (e countingEndpoint) CreateConsumer(Processor) (Consumer, error) {
	return nil, ErrConsumerUnsupported
}
func (e countingEndpoint) CreateProducer() (Producer, error) { return countingProducer(e), nil }

type countingProducer countingEndpoint

func (p countingProducer) Start(context.Context) error { return nil }
func (p countingProducer) Stop() error                 { return nil }
func (p countingProducer) Process(context.Context, *Exchange) error {
	*p.n++
	return nil
}

func TestSchemesIncludeBuiltins(t *testing.T) {
	assert.Subset(t, Schemes(), []string{"direct", "timer"})
}

func TestRouteDefinitionString(t *testing.T) {
	d := From("timer:a").To("direct:b", "direct:c").RouteID("r1")
	assert.Equal(t, "r1", d.ID)
	assert.Equal(t, "from(timer:a).to(direct:b, direct:c)", d.String())
}

func TestTimerRejectsProducer(t *testing.T) {
	c := NewContext()
	err := c.AddRoute(From("direct:in").To("timer:out"))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Start(context.Background()), ErrProducerUnsupported)
	assert.Equal(t, StatusStopped, c.Status())
}

func TestDateAndTimeOfDay(t *testing.T) {
	ts := time.Date(2024, time.March, 9, 13, 45, 30, 500_000_000, time.UTC)

	d := DateOf(ts)
	assert.Equal(t, "2024-03-09", d.String())
	assert.Equal(t, time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC), d.Time())

	tod := TimeOfDayOf(ts)
	assert.Equal(t, time.Date(1970, time.January, 1, 13, 45, 30, 500_000_000, time.UTC), tod.Time())
}
