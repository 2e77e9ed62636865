package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routex/router"
)

func startRoute(t *testing.T, from string) router.PollingConsumer {
	t.Helper()
	ctx := router.NewContext()
	require.NoError(t, ctx.AddRoute(router.From(from).To("direct:end")))

	ep, err := ctx.Endpoint("direct:end")
	require.NoError(t, err)
	pc, err := ep.(router.PollingEndpoint).CreatePollingConsumer()
	require.NoError(t, err)
	require.NoError(t, pc.Start(context.Background()))
	require.NoError(t, ctx.Start(context.Background()))
	t.Cleanup(func() {
		_ = ctx.Stop()
		_ = pc.Stop()
	})
	return pc
}

func TestRouteFromChannel(t *testing.T) {
	srv := miniredis.RunT(t)
	pc := startRoute(t, "redis:updates?address="+srv.Addr())

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	require.NoError(t, client.Publish(context.Background(), "updates", "hello").Err())

	ex := pc.ReceiveTimeout(context.Background(), 2*time.Second)
	require.NotNil(t, ex)
	assert.Equal(t, []byte("hello"), ex.Message.Body)
	assert.Equal(t, "updates", ex.Message.Headers[ChannelHeader])
	assert.NotContains(t, ex.Message.Headers, PatternHeader)
}

func TestRouteFromPattern(t *testing.T) {
	srv := miniredis.RunT(t)
	pc := startRoute(t, "redis:events.*?pattern=true&address="+srv.Addr())

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	require.NoError(t, client.Publish(context.Background(), "events.user", "u1").Err())

	ex := pc.ReceiveTimeout(context.Background(), 2*time.Second)
	require.NotNil(t, ex)
	assert.Equal(t, "events.user", ex.Message.Headers[ChannelHeader])
	assert.Equal(t, "events.*", ex.Message.Headers[PatternHeader])
}

func TestEndpointValidation(t *testing.T) {
	ctx := router.NewContext()
	_, err := ctx.Endpoint("redis:bad%20channel")
	assert.ErrorContains(t, err, "invalid redis channel")

	_, err = ctx.Endpoint("redis:ok?db=16")
	assert.ErrorContains(t, err, "db must be")
}

func TestPingFailure(t *testing.T) {
	ctx := router.NewContext()
	require.NoError(t, ctx.AddRoute(router.From("redis:x?address=127.0.0.1:1").To("direct:end")))
	assert.ErrorContains(t, ctx.Start(context.Background()), "failed to ping Redis")
}
