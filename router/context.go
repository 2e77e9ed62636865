package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"routex/internal/logging"
	"routex/internal/telemetry"
)

type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusStarted
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusStarted:
		return "started"
	case StatusStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Context owns components, endpoints and routes, and starts and stops them as
// one unit.
type Context struct {
	name string
	log  *slog.Logger

	mu         sync.Mutex
	components map[string]Component
	endpoints  map[string]Endpoint
	routes     []*route
	status     Status
	runCtx     context.Context
	cancel     context.CancelFunc
}

type Option func(*Context)

func WithName(name string) Option { return func(c *Context) { c.name = name } }

func NewContext(opts ...Option) *Context {
	c := &Context{
		name:       "routex",
		components: map[string]Component{},
		endpoints:  map[string]Endpoint{},
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logging.L().With("component", "router", "context", c.name)
	return c
}

func (c *Context) Name() string { return c.name }

func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Endpoint resolves uri to an endpoint, creating it on first use. Endpoints
// are cached by their exact URI string.
func (c *Context) Endpoint(uri string) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpointLocked(uri)
}

func (c *Context) endpointLocked(raw string) (Endpoint, error) {
	uri, err := ParseURI(raw)
	if err != nil {
		return nil, err
	}
	if ep, ok := c.endpoints[uri.String()]; ok {
		return ep, nil
	}
	comp, ok := c.components[uri.Scheme()]
	if !ok {
		if comp, err = newComponent(uri.Scheme()); err != nil {
			return nil, err
		}
		c.components[uri.Scheme()] = comp
	}
	ep, err := comp.CreateEndpoint(uri)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	if err := uri.Err(); err != nil {
		return nil, err
	}
	c.endpoints[uri.String()] = ep
	return ep, nil
}

// AddRoute resolves every endpoint of def right away, so a bad URI fails
// here rather than at Start. Routes added to a started context start
// immediately.
func (c *Context) AddRoute(def *RouteDefinition) error {
	if def == nil || def.FromURI == "" {
		return fmt.Errorf("%w: route has no source", ErrInvalidURI)
	}
	if len(def.ToURIs) == 0 {
		return fmt.Errorf("%w: route from %s has no destination", ErrInvalidURI, def.FromURI)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := def.ID
	if id == "" {
		id = "route" + strconv.Itoa(len(c.routes)+1)
	}
	from, err := c.endpointLocked(def.FromURI)
	if err != nil {
		return err
	}
	r := &route{id: id, def: def, from: from, log: c.log.With("route", id)}
	for _, to := range def.ToURIs {
		ep, err := c.endpointLocked(to)
		if err != nil {
			return err
		}
		r.to = append(r.to, ep)
	}

	c.log.Info("route added", "route", id, "definition", def.String())
	if c.status == StatusStarted {
		if err := r.start(c.runCtx); err != nil {
			return err
		}
	}
	c.routes = append(c.routes, r)
	return nil
}

// Start starts every route. The running routes outlive ctx; only Stop ends
// them. When any route fails to start, the ones already started are stopped.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusStopped {
		return ErrContextStarted
	}
	c.status = StatusStarting
	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i, r := range c.routes {
		if err := r.start(c.runCtx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = c.routes[j].stop()
			}
			c.cancel()
			c.status = StatusStopped
			return fmt.Errorf("start %s: %w", r.id, err)
		}
	}
	c.status = StatusStarted
	c.log.Info("routing context started", "routes", len(c.routes))
	return nil
}

// Stop stops routes in reverse start order. It is a no-op on a stopped
// context.
func (c *Context) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusStopped {
		return nil
	}
	c.status = StatusStopping

	var errs []error
	for i := len(c.routes) - 1; i >= 0; i-- {
		if err := c.routes[i].stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.status = StatusStopped
	c.log.Info("routing context stopped")
	return errors.Join(errs...)
}

/*──────── route ───────*/

type route struct {
	id   string
	def  *RouteDefinition
	log  *slog.Logger
	from Endpoint
	to   []Endpoint

	consumer  Consumer
	producers []Producer
}

func (r *route) start(ctx context.Context) error {
	r.producers = r.producers[:0]
	for _, ep := range r.to {
		p, err := ep.CreateProducer()
		if err != nil {
			r.stopProducers()
			return fmt.Errorf("producer %s: %w", ep.URI(), err)
		}
		if err := p.Start(ctx); err != nil {
			r.stopProducers()
			return fmt.Errorf("producer %s: %w", ep.URI(), err)
		}
		r.producers = append(r.producers, p)
	}

	cons, err := r.from.CreateConsumer(ProcessorFunc(r.process))
	if err != nil {
		r.stopProducers()
		return fmt.Errorf("consumer %s: %w", r.from.URI(), err)
	}
	if err := cons.Start(ctx); err != nil {
		_ = cons.Stop()
		r.stopProducers()
		return fmt.Errorf("consumer %s: %w", r.from.URI(), err)
	}
	r.consumer = cons
	r.log.Debug("route started")
	return nil
}

func (r *route) stop() error {
	var errs []error
	if r.consumer != nil {
		if err := r.consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("consumer %s: %w", r.from.URI(), err))
		}
		r.consumer = nil
	}
	if err := r.stopProducers(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *route) stopProducers() error {
	var errs []error
	for i := len(r.producers) - 1; i >= 0; i-- {
		if err := r.producers[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	r.producers = r.producers[:0]
	return errors.Join(errs...)
}

func (r *route) process(ctx context.Context, ex *Exchange) error {
	for _, p := range r.producers {
		if err := p.Process(ctx, ex); err != nil {
			telemetry.RouterExchanges.WithLabelValues(r.id, "failed").Inc()
			r.log.Warn("exchange failed", "exchange_id", ex.ID, "from", ex.FromEndpoint, "err", err)
			return err
		}
	}
	telemetry.RouterExchanges.WithLabelValues(r.id, "completed").Inc()
	return nil
}
