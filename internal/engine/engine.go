package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"

	"routex/internal/logging"
	"routex/internal/pipeline"
	"routex/internal/transport"
)

// Engine owns the control server and every running pipeline.
type Engine struct {
	transport *transport.Server
	log       *slog.Logger

	// pipelines run under ctx, not under the RPC that deployed them
	ctx context.Context

	mu      sync.Mutex
	runners map[string]*pipeline.Runner
}

func newEngine(ctx context.Context) *Engine {
	return &Engine{
		log:     logging.L().With("component", "engine"),
		ctx:     ctx,
		runners: map[string]*pipeline.Runner{},
	}
}

func (e *Engine) Run(ctx context.Context) error {

	go func() {
		<-ctx.Done()
		e.transport.Stop()
		if err := e.Shutdown(); err != nil {
			e.log.Warn("shutdown", "err", err)
		}
	}()

	return e.transport.Serve()
}

// Addr is the control server address.
func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

// Deploy compiles a manifest, starts the pipeline and returns its id.
func (e *Engine) Deploy(_ context.Context, manifest []byte) (string, error) {
	r, err := pipeline.CompileBytes(manifest, ".")
	if err != nil {
		return "", err
	}
	return e.start(r)
}

func (e *Engine) DeployFile(path string) (string, error) {
	r, err := pipeline.Compile(path)
	if err != nil {
		return "", err
	}
	return e.start(r)
}

func (e *Engine) start(r *pipeline.Runner) (string, error) {
	if err := r.Start(e.ctx); err != nil {
		_ = r.Close()
		return "", err
	}
	e.mu.Lock()
	e.runners[r.ID()] = r
	e.mu.Unlock()
	e.log.Info("pipeline deployed", "id", r.ID(), "name", r.Name())
	return r.ID(), nil
}

// Pause stops the pipeline and forgets it.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	r, ok := e.runners[id]
	delete(e.runners, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrNotFound, id)
	}
	e.log.Info("pipeline paused", "id", id, "name", r.Name())
	return r.Close()
}

// Pipelines lists the ids of running pipelines, sorted.
func (e *Engine) Pipelines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runners))
	for id := range e.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) Pipeline(id string) (*pipeline.Runner, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runners[id]
	return r, ok
}

// Shutdown closes every pipeline.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	runners := e.runners
	e.runners = map[string]*pipeline.Runner{}
	e.mu.Unlock()

	var errs []error
	for id, r := range runners {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
