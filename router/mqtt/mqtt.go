// Package mqtt consumes MQTT topics:
// mqtt:topic?brokerUrl=tcp://host:1883&qos=1&clientId=id
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"routex/internal/logging"
	"routex/router"
)

const (
	TopicHeader     = "MqttTopic"
	QoSHeader       = "MqttQoS"
	RetainedHeader  = "MqttRetained"
	DuplicateHeader = "MqttDuplicate"
	MessageIDHeader = "MqttMessageId"
)

func init() {
	router.Register("mqtt", func() router.Component { return component{} })
}

type component struct{}

func (component) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	ep := &Endpoint{
		uri:            uri.String(),
		topic:          uri.Name(),
		brokerURL:      uri.Param("brokerUrl", "tcp://localhost:1883"),
		clientID:       uri.Param("clientId", ""),
		shareGroup:     uri.Param("shareGroup", ""),
		qos:            uri.Int("qos", 0),
		cleanSession:   uri.Bool("cleanSession", true),
		user:           uri.Param("userName", ""),
		password:       uri.Param("password", ""),
		connectTimeout: uri.Duration("connectTimeout", 5*time.Second),
	}
	if ep.topic == "" {
		return nil, fmt.Errorf("mqtt endpoint needs a topic")
	}
	if ep.qos < 0 || ep.qos > 2 {
		return nil, fmt.Errorf("qos must be 0, 1 or 2, got %d", ep.qos)
	}
	if !strings.Contains(ep.brokerURL, "://") {
		ep.brokerURL = "tcp://" + ep.brokerURL
	}
	return ep, nil
}

type Endpoint struct {
	uri            string
	topic          string
	brokerURL      string
	clientID       string
	shareGroup     string
	qos            int
	cleanSession   bool
	user           string
	password       string
	connectTimeout time.Duration
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateConsumer(p router.Processor) (router.Consumer, error) {
	return &consumer{ep: e, p: p, log: logging.L().With("component", "mqtt", "topic", e.topic)}, nil
}

func (e *Endpoint) CreateProducer() (router.Producer, error) {
	return nil, fmt.Errorf("%w: %s", router.ErrProducerUnsupported, e.uri)
}

// subscription is the topic actually subscribed, with the shared
// subscription prefix when a share group is set.
func (e *Endpoint) subscription() string {
	if e.shareGroup != "" {
		return "$share/" + e.shareGroup + "/" + e.topic
	}
	return e.topic
}

type consumer struct {
	ep  *Endpoint
	p   router.Processor
	log *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	clientID := c.ep.clientID
	if clientID == "" {
		clientID = "routex-" + uuid.NewString()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(c.ep.brokerURL).
		SetClientID(clientID).
		SetCleanSession(c.ep.cleanSession).
		SetAutoReconnect(true).
		SetConnectTimeout(c.ep.connectTimeout)
	if c.ep.user != "" {
		opts.SetUsername(c.ep.user)
		opts.SetPassword(c.ep.password)
	}

	c.log.Info("starting MQTT consumer", "broker", c.ep.brokerURL, "subscription", c.ep.subscription())
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); !tok.WaitTimeout(c.ep.connectTimeout) || tok.Error() != nil {
		client.Disconnect(0)
		return fmt.Errorf("failed to connect to MQTT broker: %w", tokenErr(tok, "connect"))
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	if tok := client.Subscribe(c.ep.subscription(), byte(c.ep.qos), c.handle); !tok.WaitTimeout(c.ep.connectTimeout) || tok.Error() != nil {
		c.cancel()
		client.Disconnect(250)
		return fmt.Errorf("failed to subscribe to topic: %w", tokenErr(tok, "subscribe"))
	}
	c.client = client
	return nil
}

func tokenErr(tok mqtt.Token, op string) error {
	if err := tok.Error(); err != nil {
		return err
	}
	return fmt.Errorf("%s timed out", op)
}

func (c *consumer) handle(_ mqtt.Client, msg mqtt.Message) {
	ex := router.NewExchange(c.ep.uri)
	ex.Message.Body = msg.Payload()
	ex.Message.SetHeader(TopicHeader, msg.Topic())
	ex.Message.SetHeader(QoSHeader, int8(msg.Qos()))
	ex.Message.SetHeader(RetainedHeader, msg.Retained())
	ex.Message.SetHeader(DuplicateHeader, msg.Duplicate())
	ex.Message.SetHeader(MessageIDHeader, int32(msg.MessageID()))

	if err := c.p.Process(c.ctx, ex); err != nil {
		c.log.Warn("mqtt message not processed", "exchange_id", ex.ID, "err", err)
	}
}

func (c *consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	c.cancel()
	var err error
	if c.client.IsConnected() {
		if tok := c.client.Unsubscribe(c.ep.subscription()); tok.WaitTimeout(time.Second) {
			err = tok.Error()
		}
		c.client.Disconnect(250)
	}
	c.client = nil
	if err != nil {
		return fmt.Errorf("mqtt unsubscribe: %w", err)
	}
	return nil
}
