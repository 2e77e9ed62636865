package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"routex/internal/logging"
)

// Headers set on every timer exchange.
const (
	TimerNameHeader      = "TimerName"
	TimerFiredTimeHeader = "TimerFiredTime"
	TimerPeriodHeader    = "TimerPeriod"
	TimerCounterHeader   = "TimerCounter"
)

func init() {
	Register("timer", func() Component { return timerComponent{} })
}

type timerComponent struct{}

func (timerComponent) CreateEndpoint(uri *URI) (Endpoint, error) {
	ep := &TimerEndpoint{
		uri:         uri.String(),
		name:        uri.Name(),
		period:      uri.Duration("period", time.Second),
		delay:       uri.Duration("delay", time.Second),
		repeatCount: uri.Int("repeatCount", 0),
	}
	if ep.name == "" {
		return nil, errors.New("timer endpoint needs a name")
	}
	if ep.period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", ep.period)
	}
	return ep, nil
}

// TimerEndpoint fires an empty exchange every period, after an initial delay,
// and stops after repeatCount firings when repeatCount is positive.
type TimerEndpoint struct {
	uri         string
	name        string
	period      time.Duration
	delay       time.Duration
	repeatCount int
}

func (e *TimerEndpoint) URI() string { return e.uri }

func (e *TimerEndpoint) CreateConsumer(p Processor) (Consumer, error) {
	return &timerConsumer{ep: e, p: p}, nil
}

func (e *TimerEndpoint) CreateProducer() (Producer, error) {
	return nil, fmt.Errorf("%w: %s", ErrProducerUnsupported, e.uri)
}

type timerConsumer struct {
	ep *TimerEndpoint
	p  Processor

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *timerConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *timerConsumer) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *timerConsumer) run(ctx context.Context) {
	defer c.wg.Done()
	log := logging.L().With("component", "timer", "timer", c.ep.name)

	if c.ep.delay > 0 {
		t := time.NewTimer(c.ep.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	tick := time.NewTicker(c.ep.period)
	defer tick.Stop()
	for counter := int64(1); ; counter++ {
		ex := NewExchange(c.ep.uri)
		ex.Message.SetHeader(TimerNameHeader, c.ep.name)
		ex.Message.SetHeader(TimerFiredTimeHeader, time.Now())
		ex.Message.SetHeader(TimerPeriodHeader, c.ep.period.Milliseconds())
		ex.Message.SetHeader(TimerCounterHeader, counter)
		if err := c.p.Process(ctx, ex); err != nil && ctx.Err() == nil {
			log.Debug("timer exchange not delivered", "counter", counter, "err", err)
		}

		if c.ep.repeatCount > 0 && counter >= int64(c.ep.repeatCount) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
