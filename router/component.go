package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrInvalidURI          = errors.New("router: invalid endpoint uri")
	ErrUnknownComponent    = errors.New("router: no component for scheme")
	ErrUnknownOption       = errors.New("router: unknown endpoint options")
	ErrNoConsumer          = errors.New("router: no consumers available on endpoint")
	ErrQueueFull           = errors.New("router: polling consumer queue is full")
	ErrProducerUnsupported = errors.New("router: endpoint cannot produce")
	ErrConsumerUnsupported = errors.New("router: endpoint cannot consume")
	ErrPollingUnsupported  = errors.New("router: endpoint does not support polling consumers")
	ErrContextStarted      = errors.New("router: context already started")
	ErrConsumerNotStarted  = errors.New("router: polling consumer not started")
)

// Processor handles one exchange. Consumers call their processor for every
// inbound message; a non-nil error marks the exchange as failed.
type Processor interface {
	Process(ctx context.Context, ex *Exchange) error
}

type ProcessorFunc func(ctx context.Context, ex *Exchange) error

func (f ProcessorFunc) Process(ctx context.Context, ex *Exchange) error { return f(ctx, ex) }

// Service is anything with a start/stop lifecycle. Stop must be safe to call
// more than once.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type Consumer interface {
	Service
}

type Producer interface {
	Service
	Processor
}

// PollingConsumer buffers exchanges until the caller asks for them.
type PollingConsumer interface {
	Service
	ReceiveNoWait() *Exchange
	Receive(ctx context.Context) (*Exchange, error)
	ReceiveTimeout(ctx context.Context, d time.Duration) *Exchange
}

type Endpoint interface {
	URI() string
	CreateConsumer(p Processor) (Consumer, error)
	CreateProducer() (Producer, error)
}

type PollingEndpoint interface {
	Endpoint
	CreatePollingConsumer() (PollingConsumer, error)
}

// Component creates endpoints for one URI scheme. Implementations read their
// options from uri; the context rejects options left unread.
type Component interface {
	CreateEndpoint(uri *URI) (Endpoint, error)
}

/*──────── registry ───────*/

type Factory func() Component

var components = map[string]Factory{}

// Register is called from each component's init().
func Register(scheme string, f Factory) {
	components[scheme] = f
}

func newComponent(scheme string) (Component, error) {
	if f, ok := components[scheme]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownComponent, scheme)
}

// Schemes lists the registered component schemes.
func Schemes() []string {
	out := make([]string, 0, len(components))
	for s := range components {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
