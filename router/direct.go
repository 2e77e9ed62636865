package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"routex/internal/telemetry"
)

// Defaults for direct polling consumers.
const (
	DefaultQueueSize     = 1000
	DefaultBlockWhenFull = true
)

func init() {
	Register("direct", func() Component {
		return &directComponent{channels: map[string]*directChannel{}}
	})
}

// directComponent connects producers and consumers of the same name
// synchronously, inside one context.
type directComponent struct {
	mu       sync.Mutex
	channels map[string]*directChannel
}

type directChannel struct {
	mu       sync.RWMutex
	consumer Processor
}

func (c *directComponent) channel(name string) *directChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	if !ok {
		ch = &directChannel{}
		c.channels[name] = ch
	}
	return ch
}

func (c *directComponent) CreateEndpoint(uri *URI) (Endpoint, error) {
	name := uri.Name()
	if name == "" {
		return nil, errors.New("direct endpoint needs a name")
	}
	ep := &DirectEndpoint{
		uri:           uri.String(),
		name:          name,
		ch:            c.channel(name),
		queueSize:     uri.Int("pollingConsumerQueueSize", DefaultQueueSize),
		blockWhenFull: uri.Bool("pollingConsumerBlockWhenFull", DefaultBlockWhenFull),
		blockTimeout:  uri.Duration("pollingConsumerBlockTimeout", 0),
	}
	if ep.queueSize < 1 {
		return nil, fmt.Errorf("pollingConsumerQueueSize must be positive, got %d", ep.queueSize)
	}
	if ep.blockTimeout < 0 {
		return nil, fmt.Errorf("pollingConsumerBlockTimeout must not be negative, got %s", ep.blockTimeout)
	}
	return ep, nil
}

type DirectEndpoint struct {
	uri  string
	name string
	ch   *directChannel

	queueSize     int
	blockWhenFull bool
	blockTimeout  time.Duration
}

func (e *DirectEndpoint) URI() string { return e.uri }

func (e *DirectEndpoint) CreateConsumer(p Processor) (Consumer, error) {
	return &directConsumer{ep: e, p: p}, nil
}

func (e *DirectEndpoint) CreateProducer() (Producer, error) {
	return &directProducer{ep: e}, nil
}

func (e *DirectEndpoint) CreatePollingConsumer() (PollingConsumer, error) {
	return &QueuePollingConsumer{
		ep:            e,
		queue:         make(chan *Exchange, e.queueSize),
		blockWhenFull: e.blockWhenFull,
		blockTimeout:  e.blockTimeout,
	}, nil
}

func (ch *directChannel) attach(p Processor, uri string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.consumer != nil {
		return fmt.Errorf("endpoint %s already has a consumer", uri)
	}
	ch.consumer = p
	return nil
}

func (ch *directChannel) detach(p Processor) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.consumer == p {
		ch.consumer = nil
	}
}

func (ch *directChannel) current() Processor {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.consumer
}

/*──────── event-driven consumer ───────*/

type directConsumer struct {
	ep *DirectEndpoint
	p  Processor
}

func (c *directConsumer) Start(context.Context) error { return c.ep.ch.attach(c, c.ep.uri) }

func (c *directConsumer) Stop() error {
	c.ep.ch.detach(c)
	return nil
}

func (c *directConsumer) Process(ctx context.Context, ex *Exchange) error {
	return c.p.Process(ctx, ex)
}

/*──────── producer ───────*/

type directProducer struct {
	ep *DirectEndpoint
}

func (p *directProducer) Start(context.Context) error { return nil }
func (p *directProducer) Stop() error                 { return nil }

func (p *directProducer) Process(ctx context.Context, ex *Exchange) error {
	cons := p.ep.ch.current()
	if cons == nil {
		return fmt.Errorf("%w: %s", ErrNoConsumer, p.ep.uri)
	}
	return cons.Process(ctx, ex)
}

/*──────── polling consumer ───────*/

// QueuePollingConsumer buffers exchanges sent to a direct endpoint in a
// bounded queue until they are received.
type QueuePollingConsumer struct {
	ep    *DirectEndpoint
	queue chan *Exchange

	blockWhenFull bool
	blockTimeout  time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

func (c *QueuePollingConsumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.ep.ch.attach(c, c.ep.uri); err != nil {
		return err
	}
	c.done = make(chan struct{})
	c.started = true
	return nil
}

// Stop detaches the consumer; exchanges already queued stay receivable.
func (c *QueuePollingConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.ep.ch.detach(c)
	close(c.done)
	c.started = false
	return nil
}

func (c *QueuePollingConsumer) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Process enqueues ex. A full queue fails at once unless blockWhenFull is
// set, in which case it waits for space, the block timeout, ctx or Stop.
func (c *QueuePollingConsumer) Process(ctx context.Context, ex *Exchange) error {
	c.mu.Lock()
	done := c.done
	started := c.started
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("%w: %s", ErrConsumerNotStarted, c.ep.uri)
	}

	select {
	case c.queue <- ex:
		c.gauge()
		return nil
	default:
	}
	if !c.blockWhenFull {
		return fmt.Errorf("%w: %s", ErrQueueFull, c.ep.uri)
	}

	var timeout <-chan time.Time
	if c.blockTimeout > 0 {
		t := time.NewTimer(c.blockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case c.queue <- ex:
		c.gauge()
		return nil
	case <-timeout:
		return fmt.Errorf("%w: %s (waited %s)", ErrQueueFull, c.ep.uri, c.blockTimeout)
	case <-done:
		return fmt.Errorf("%w: %s", ErrConsumerNotStarted, c.ep.uri)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *QueuePollingConsumer) ReceiveNoWait() *Exchange {
	select {
	case ex := <-c.queue:
		c.gauge()
		return ex
	default:
		return nil
	}
}

func (c *QueuePollingConsumer) Receive(ctx context.Context) (*Exchange, error) {
	select {
	case ex := <-c.queue:
		c.gauge()
		return ex, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *QueuePollingConsumer) ReceiveTimeout(ctx context.Context, d time.Duration) *Exchange {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case ex := <-c.queue:
		c.gauge()
		return ex
	case <-t.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Pending reports how many exchanges are queued.
func (c *QueuePollingConsumer) Pending() int { return len(c.queue) }

func (c *QueuePollingConsumer) gauge() {
	telemetry.DirectQueueDepth.WithLabelValues(c.ep.name).Set(float64(len(c.queue)))
}
