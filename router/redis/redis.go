// Package redis consumes Redis pub/sub channels:
// redis:channel?address=host:6379&db=0&pattern=false
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/redis/go-redis/v9"

	"routex/internal/logging"
	"routex/router"
)

const (
	ChannelHeader = "RedisChannel"
	PatternHeader = "RedisPattern"
)

var channelRegex = regexp.MustCompile(`^[a-zA-Z0-9:_.\-/*?\[\]]+$`)

func init() {
	router.Register("redis", func() router.Component { return component{} })
}

type component struct{}

func (component) CreateEndpoint(uri *router.URI) (router.Endpoint, error) {
	ep := &Endpoint{
		uri:      uri.String(),
		channel:  uri.Name(),
		address:  uri.Param("address", "localhost:6379"),
		username: uri.Param("username", ""),
		password: uri.Param("password", ""),
		db:       uri.Int("db", 0),
		pattern:  uri.Bool("pattern", false),
	}
	if !channelRegex.MatchString(ep.channel) {
		return nil, fmt.Errorf("invalid redis channel %q", ep.channel)
	}
	if ep.db < 0 || ep.db > 15 {
		return nil, fmt.Errorf("db must be between 0 and 15, got %d", ep.db)
	}
	return ep, nil
}

type Endpoint struct {
	uri      string
	channel  string
	address  string
	username string
	password string
	db       int
	pattern  bool
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateConsumer(p router.Processor) (router.Consumer, error) {
	return &consumer{ep: e, p: p, log: logging.L().With("component", "redis", "channel", e.channel)}, nil
}

func (e *Endpoint) CreateProducer() (router.Producer, error) {
	return nil, fmt.Errorf("%w: %s", router.ErrProducerUnsupported, e.uri)
}

type consumer struct {
	ep  *Endpoint
	p   router.Processor
	log *slog.Logger

	mu     sync.Mutex
	client *redis.Client
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	c.log.Info("starting Redis consumer", "address", c.ep.address, "db", c.ep.db, "pattern", c.ep.pattern)
	client := redis.NewClient(&redis.Options{
		Addr:     c.ep.address,
		Username: c.ep.username,
		Password: c.ep.password,
		DB:       c.ep.db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var ps *redis.PubSub
	if c.ep.pattern {
		ps = client.PSubscribe(ctx, c.ep.channel)
	} else {
		ps = client.Subscribe(ctx, c.ep.channel)
	}
	// wait for the subscription confirmation so nothing published after
	// Start returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		_ = client.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", c.ep.channel, err)
	}

	c.client, c.pubsub, c.cancel = client, ps, cancel
	c.wg.Add(1)
	go c.consume(ctx, ps.Channel())
	return nil
}

func (c *consumer) consume(ctx context.Context, ch <-chan *redis.Message) {
	defer c.wg.Done()
	for msg := range ch {
		ex := router.NewExchange(c.ep.uri)
		ex.Message.Body = []byte(msg.Payload)
		ex.Message.SetHeader(ChannelHeader, msg.Channel)
		if msg.Pattern != "" {
			ex.Message.SetHeader(PatternHeader, msg.Pattern)
		}
		if err := c.p.Process(ctx, ex); err != nil {
			c.log.Warn("redis message not processed", "exchange_id", ex.ID, "err", err)
		}
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
	if e := c.pubsub.Close(); e != nil {
		err = fmt.Errorf("error closing Redis pubsub: %w", e)
	}
	c.wg.Wait()
	if e := c.client.Close(); e != nil && err == nil {
		err = fmt.Errorf("error closing Redis client: %w", e)
	}
	c.client, c.pubsub = nil, nil
	return err
}
