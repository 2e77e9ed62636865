// Package kafka consumes Kafka topics through a consumer group:
// kafka:topic?brokers=host:9092&groupId=g&autoOffsetReset=earliest
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"routex/internal/logging"
	"routex/internal/offset"
	"routex/router"
)

const (
	TopicHeader     = "KafkaTopic"
	PartitionHeader = "KafkaPartition"
	OffsetHeader    = "KafkaOffset"
	KeyHeader       = "KafkaKey"
	TimestampHeader = "KafkaTimestamp"
)

func init() {
	router.Register("kafka", func() router.Component { return component{} })
}

type component struct{}

func (component) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	ep := &Endpoint{
		uri:               uri.String(),
		topic:             uri.Name(),
		brokers:           uri.List("brokers"),
		groupID:           uri.Param("groupId", "routex"),
		autoOffsetReset:   uri.Param("autoOffsetReset", "latest"),
		version:           uri.Param("version", sarama.DefaultVersion.String()),
		commitInterval:    uri.Duration("autoCommitInterval", 5*time.Second),
		breakOnFirstError: uri.Bool("breakOnFirstError", false),
		tls:               uri.Bool("tls", false),
		saslUser:          uri.Param("saslUser", ""),
		saslPassword:      uri.Param("saslPassword", ""),
	}
	if ep.topic == "" {
		return nil, errors.New("kafka endpoint needs a topic")
	}
	if len(ep.brokers) == 0 {
		ep.brokers = []string{"localhost:9092"}
	}
	if ep.autoOffsetReset != "earliest" && ep.autoOffsetReset != "latest" {
		return nil, fmt.Errorf("autoOffsetReset must be earliest or latest, got %q", ep.autoOffsetReset)
	}
	if _, err := sarama.ParseKafkaVersion(ep.version); err != nil {
		return nil, err
	}
	return ep, nil
}

type Endpoint struct {
	uri               string
	topic             string
	brokers           []string
	groupID           string
	autoOffsetReset   string
	version           string
	commitInterval    time.Duration
	breakOnFirstError bool
	tls               bool
	saslUser          string
	saslPassword      string
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateConsumer(p router.Processor) (router.Consumer, error) {
	return &consumer{
		ep:  e,
		p:   p,
		log: logging.L().With("component", "kafka", "topic", e.topic, "group", e.groupID),
	}, nil
}

func (e *Endpoint) CreateProducer() (router.Producer, error) {
	return nil, fmt.Errorf("%w: %s", router.ErrProducerUnsupported, e.uri)
}

func (e *Endpoint) saramaConfig() (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(e.version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.ClientID = "routex"
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if e.tls {
		sc.Net.TLS.Enable = true
	}
	if e.saslUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = e.saslUser, e.saslPassword
	}
	switch e.autoOffsetReset {
	case "earliest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

type consumer struct {
	ep  *Endpoint
	p   router.Processor
	log *slog.Logger

	mu     sync.Mutex
	client sarama.Client
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group != nil {
		return nil
	}

	sc, err := c.ep.saramaConfig()
	if err != nil {
		return err
	}
	client, err := sarama.NewClient(c.ep.brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	group, err := sarama.NewConsumerGroupFromClient(c.ep.groupID, client)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("kafka consumer group: %w", err)
	}
	c.client, c.group = client, group

	ctx, c.cancel = context.WithCancel(ctx)
	h := &groupHandler{
		p:                 c.p,
		from:              c.ep.uri,
		cadence:           offset.NewCadence(c.ep.commitInterval),
		breakOnFirstError: c.ep.breakOnFirstError,
		log:               c.log,
	}
	c.wg.Add(2)
	go c.run(ctx, h)
	go c.drainErrors()
	c.log.Info("kafka consumer started", "brokers", c.ep.brokers)
	return nil
}

func (c *consumer) run(ctx context.Context, h *groupHandler) {
	defer c.wg.Done()
	for {
		if err := c.group.Consume(ctx, []string{c.ep.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.log.Warn("consumer group session ended", "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *consumer) drainErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.log.Warn("kafka consumer error", "err", err)
	}
}

func (c *consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group == nil {
		return nil
	}
	c.cancel()
	err := c.group.Close()
	c.wg.Wait()
	if cerr := c.client.Close(); cerr != nil && !errors.Is(cerr, sarama.ErrClosedClient) && err == nil {
		err = cerr
	}
	c.group, c.client = nil, nil
	return err
}

/*──────── group handler ───────*/

type groupHandler struct {
	p                 router.Processor
	from              string
	cadence           *offset.Cadence
	breakOnFirstError bool
	log               *slog.Logger
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup commits whatever was marked before the session ends, so a
// rebalance does not redeliver processed messages.
func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	sess.Commit()
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			ex := toExchange(h.from, msg)
			if err := h.p.Process(sess.Context(), ex); err != nil {
				if sess.Context().Err() != nil {
					return nil
				}
				h.log.Warn("kafka message not processed",
					"partition", msg.Partition, "offset", msg.Offset, "exchange_id", ex.ID, "err", err)
				if h.breakOnFirstError {
					return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
				}
			}
			sess.MarkMessage(msg, "")
			if h.cadence.Due() {
				sess.Commit()
			}
		}
	}
}

func toExchange(from string, msg *sarama.ConsumerMessage) *router.Exchange {
	ex := router.NewExchange(from)
	ex.Message.Body = msg.Value
	ex.Message.SetHeader(TopicHeader, msg.Topic)
	ex.Message.SetHeader(PartitionHeader, msg.Partition)
	ex.Message.SetHeader(OffsetHeader, msg.Offset)
	if msg.Key != nil {
		ex.Message.SetHeader(KeyHeader, msg.Key)
	}
	if !msg.Timestamp.IsZero() {
		ex.Message.SetHeader(TimestampHeader, msg.Timestamp)
	}
	for _, rh := range msg.Headers {
		if rh == nil {
			continue
		}
		ex.Message.SetHeader(string(rh.Key), rh.Value)
	}
	return ex
}
