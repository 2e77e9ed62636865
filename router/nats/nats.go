// Package nats consumes NATS subjects: nats:subject?servers=host:4222&queueName=q
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"routex/internal/logging"
	"routex/router"
)

const (
	SubjectHeader = "NatsSubject"
	ReplyHeader   = "NatsReplyTo"
	TimeHeader    = "NatsReceivedTime"
)

func init() {
	router.Register("nats", func() router.Component { return component{} })
}

type component struct{}

func (component) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	ep := &Endpoint{
		uri:            uri.String(),
		subject:        uri.Name(),
		servers:        uri.Param("servers", nats.DefaultURL),
		queue:          uri.Param("queueName", ""),
		connectTimeout: uri.Duration("connectTimeout", 2*time.Second),
		user:           uri.Param("user", ""),
		password:       uri.Param("password", ""),
		token:          uri.Param("token", ""),
	}
	if ep.subject == "" {
		return nil, fmt.Errorf("nats endpoint needs a subject")
	}
	return ep, nil
}

type Endpoint struct {
	uri            string
	subject        string
	servers        string
	queue          string
	connectTimeout time.Duration
	user           string
	password       string
	token          string
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateConsumer(p router.Processor) (router.Consumer, error) {
	return &consumer{ep: e, p: p, log: logging.L().With("component", "nats", "subject", e.subject)}, nil
}

func (e *Endpoint) CreateProducer() (router.Producer, error) {
	return nil, fmt.Errorf("%w: %s", router.ErrProducerUnsupported, e.uri)
}

func (e *Endpoint) options() []nats.Option {
	opts := []nats.Option{
		nats.Name("routex"),
		nats.Timeout(e.connectTimeout),
	}
	if e.user != "" {
		opts = append(opts, nats.UserInfo(e.user, e.password))
	}
	if e.token != "" {
		opts = append(opts, nats.Token(e.token))
	}
	return opts
}

type consumer struct {
	ep  *Endpoint
	p   router.Processor
	log *slog.Logger

	mu     sync.Mutex
	nc     *nats.Conn
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		return nil
	}

	c.log.Info("starting NATS consumer", "servers", c.ep.servers, "queue", c.ep.queue)
	nc, err := nats.Connect(c.ep.servers, c.ep.options()...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.ep.queue != "" {
		c.sub, err = nc.QueueSubscribe(c.ep.subject, c.ep.queue, c.handle)
	} else {
		c.sub, err = nc.Subscribe(c.ep.subject, c.handle)
	}
	if err != nil {
		c.cancel()
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", c.ep.subject, err)
	}
	if err := nc.Flush(); err != nil {
		c.cancel()
		nc.Close()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	c.nc = nc
	return nil
}

func (c *consumer) handle(msg *nats.Msg) {
	ex := router.NewExchange(c.ep.uri)
	ex.Message.Body = msg.Data
	ex.Message.SetHeader(SubjectHeader, msg.Subject)
	if msg.Reply != "" {
		ex.Message.SetHeader(ReplyHeader, msg.Reply)
	}
	ex.Message.SetHeader(TimeHeader, time.Now())
	for k := range msg.Header {
		ex.Message.SetHeader(k, msg.Header.Get(k))
	}

	if err := c.p.Process(c.ctx, ex); err != nil {
		c.log.Warn("nats message not processed", "exchange_id", ex.ID, "err", err)
	}
}

func (c *consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}
	c.cancel()
	var err error
	if c.sub != nil {
		err = c.sub.Unsubscribe()
	}
	c.nc.Close()
	c.nc, c.sub = nil, nil
	if err != nil {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}
