package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routex/router"
)

// startBroker runs an in-process broker on a free port and returns its address.
func startBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := mochi.New(nil)
	require.NoError(t, srv.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, srv.AddListener(listeners.NewTCP(listeners.Config{ID: "t1", Address: addr})))
	go func() { _ = srv.Serve() }()
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() { _ = srv.Close() })
	return addr
}

func TestRouteFromTopic(t *testing.T) {
	addr := startBroker(t)

	ctx := router.NewContext()
	from := "mqtt:sensors/temp?brokerUrl=" + addr + "&qos=1"
	require.NoError(t, ctx.AddRoute(router.From(from).To("direct:end")))

	ep, err := ctx.Endpoint("direct:end")
	require.NoError(t, err)
	pc, err := ep.(router.PollingEndpoint).CreatePollingConsumer()
	require.NoError(t, err)
	require.NoError(t, pc.Start(context.Background()))
	defer pc.Stop()

	require.NoError(t, ctx.Start(context.Background()))
	defer ctx.Stop()

	pub := mqtt.NewClient(mqtt.NewClientOptions().AddBroker("tcp://" + addr).SetClientID("pub"))
	tok := pub.Connect()
	require.True(t, tok.WaitTimeout(2*time.Second))
	require.NoError(t, tok.Error())
	defer pub.Disconnect(100)

	tok = pub.Publish("sensors/temp", 1, false, []byte("21.5"))
	require.True(t, tok.WaitTimeout(2*time.Second))
	require.NoError(t, tok.Error())

	ex := pc.ReceiveTimeout(context.Background(), 2*time.Second)
	require.NotNil(t, ex)
	assert.Equal(t, []byte("21.5"), ex.Message.Body)
	assert.Equal(t, "sensors/temp", ex.Message.Headers[TopicHeader])
	assert.Equal(t, int8(1), ex.Message.Headers[QoSHeader])
	assert.Equal(t, false, ex.Message.Headers[RetainedHeader])
}

func TestEndpointOptions(t *testing.T) {
	ctx := router.NewContext()

	_, err := ctx.Endpoint("mqtt:a?qos=3")
	assert.ErrorContains(t, err, "qos must be")

	ep, err := ctx.Endpoint("mqtt:a/b?brokerUrl=broker:1883&shareGroup=g1")
	require.NoError(t, err)
	e := ep.(*Endpoint)
	assert.Equal(t, "tcp://broker:1883", e.brokerURL)
	assert.Equal(t, "$share/g1/a/b", e.subscription())
}

func TestConnectFailure(t *testing.T) {
	ctx := router.NewContext()
	require.NoError(t, ctx.AddRoute(router.From("mqtt:a?brokerUrl=127.0.0.1:1&connectTimeout=200").To("direct:end")))
	assert.ErrorContains(t, ctx.Start(context.Background()), "failed to connect to MQTT broker")
}
