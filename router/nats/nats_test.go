package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routex/router"
)

func startServer(t *testing.T) string {
	t.Helper()
	srv, err := server.NewServer(&server.Options{
		Host:            "127.0.0.1",
		Port:            server.RANDOM_PORT,
		NoSystemAccount: true,
		NoLog:           true,
	})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(2*time.Second), "nats server not ready")
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv.ClientURL()
}

func TestRouteFromSubject(t *testing.T) {
	url := startServer(t)

	ctx := router.NewContext()
	from := "nats:orders.created?servers=" + url
	require.NoError(t, ctx.AddRoute(router.From(from).To("direct:end")))

	ep, err := ctx.Endpoint("direct:end")
	require.NoError(t, err)
	pc, err := ep.(router.PollingEndpoint).CreatePollingConsumer()
	require.NoError(t, err)
	require.NoError(t, pc.Start(context.Background()))
	defer pc.Stop()

	require.NoError(t, ctx.Start(context.Background()))
	defer ctx.Stop()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	msg := nats.NewMsg("orders.created")
	msg.Data = []byte(`{"id":1}`)
	msg.Header.Set("Trace-Id", "abc")
	require.NoError(t, nc.PublishMsg(msg))
	require.NoError(t, nc.Flush())

	ex := pc.ReceiveTimeout(context.Background(), 2*time.Second)
	require.NotNil(t, ex)
	assert.Equal(t, from, ex.FromEndpoint)
	assert.Equal(t, []byte(`{"id":1}`), ex.Message.Body)
	assert.Equal(t, "orders.created", ex.Message.Headers[SubjectHeader])
	assert.Equal(t, "abc", ex.Message.Headers["Trace-Id"])
	assert.IsType(t, time.Time{}, ex.Message.Headers[TimeHeader])
}

func TestConnectFailure(t *testing.T) {
	ctx := router.NewContext()
	require.NoError(t, ctx.AddRoute(router.From("nats:x?servers=nats://127.0.0.1:1&connectTimeout=100").To("direct:end")))
	assert.ErrorContains(t, ctx.Start(context.Background()), "failed to connect to NATS")
	assert.Equal(t, router.StatusStopped, ctx.Status())
}

func TestUnknownOption(t *testing.T) {
	ctx := router.NewContext()
	err := ctx.AddRoute(router.From("nats:x?colour=blue").To("direct:end"))
	assert.ErrorIs(t, err, router.ErrUnknownOption)
}

func TestNoProducer(t *testing.T) {
	ctx := router.NewContext()
	ep, err := ctx.Endpoint("nats:x")
	require.NoError(t, err)
	_, err = ep.CreateProducer()
	assert.ErrorIs(t, err, router.ErrProducerUnsupported)
}
