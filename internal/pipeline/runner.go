package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"routex/connect"
	"routex/internal/logging"
	"routex/internal/offset"
	"routex/internal/telemetry"
	"routex/internal/transform"
	"routex/sink"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

var ErrAlreadyStarted = errors.New("runner: already started")

type namedSink struct {
	name     string
	a        sink.Adapter
	ackAware bool
}

// inflight is a record pushed to sinks and not yet acknowledged by all of
// them.
type inflight struct {
	remaining int
	done      bool
	partition map[string]any
	offset    map[string]any
}

// Runner drives one source task: it polls records, runs them through the
// transform chain and the converters, pushes them to every sink and commits
// their offsets once all sinks have acknowledged them.
type Runner struct {
	id   string
	name string
	log  *slog.Logger

	task       connect.SourceTask
	props      map[string]string
	chain      transform.Chain
	keyConv    connect.ValueConverter
	valueConv  connect.ValueConverter
	headerConv connect.HeaderConverter
	sinks      []namedSink

	store         offset.Store
	storeName     string
	flushInterval time.Duration
	offsets       *offset.Manager

	pollInterval time.Duration
	tolerant     bool

	seq atomic.Uint64

	ackMu   sync.Mutex
	pending map[uint64]*inflight
	next    uint64 // lowest sequence whose offset is not committed yet

	mu        sync.Mutex
	status    Status
	cause     error
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewRunner(name string) *Runner {
	id := uuid.NewString()
	return &Runner{
		id:            id,
		name:          name,
		log:           logging.L().With("component", "pipeline", "pipeline", name, "id", id),
		keyConv:       connect.ByteArrayConverter{},
		valueConv:     connect.ByteArrayConverter{},
		headerConv:    connect.SimpleHeaderConverter{},
		store:         offset.NewMemoryStore(),
		storeName:     "memory",
		flushInterval: defaultFlushInterval,
		pollInterval:  defaultPollInterval,
		pending:       map[uint64]*inflight{},
		next:          1,
		status:        StatusCreated,
	}
}

func (r *Runner) ID() string   { return r.id }
func (r *Runner) Name() string { return r.name }

func (r *Runner) SetTask(t connect.SourceTask, props map[string]string) { r.task, r.props = t, props }
func (r *Runner) AddTransform(name string, t transform.Transform)       { r.chain.Add(name, t) }

// AddSink registers s and binds its acknowledgements when it sends any.
func (r *Runner) AddSink(name string, s sink.Adapter) {
	ns := namedSink{name: name, a: s}
	if aa, ok := s.(sink.AckAware); ok {
		aa.BindAck(r.Ack)
		ns.ackAware = true
	}
	r.sinks = append(r.sinks, ns)
}

func (r *Runner) SetOffsetStore(s offset.Store, name string, flushEvery time.Duration) {
	r.store, r.storeName, r.flushInterval = s, name, flushEvery
}

// Status reports the runner state and, when failed, the cause.
func (r *Runner) Status() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.cause
}

// Offsets exposes the offset manager once the runner has started.
func (r *Runner) Offsets() *offset.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offsets
}

/*──────── lifecycle ───────*/

// Start loads committed offsets, starts the task once and polls it in the
// background until ctx ends, Close is called or a record fails fatally.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusCreated {
		return ErrAlreadyStarted
	}
	if r.task == nil {
		return errors.New("runner: no source task configured")
	}

	m, err := offset.Open(ctx, r.store, r.storeName, r.flushInterval)
	if err != nil {
		r.status, r.cause = StatusFailed, err
		return fmt.Errorf("runner: %w", err)
	}
	r.offsets = m

	if err := r.task.Start(r.props); err != nil {
		r.status, r.cause = StatusFailed, err
		return fmt.Errorf("runner: start task: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.status = StatusRunning
	go r.run(runCtx)
	r.log.Info("pipeline started", "task", fmt.Sprintf("%T", r.task), "version", r.task.Version(), "sinks", len(r.sinks))
	return nil
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)
	for ctx.Err() == nil {
		recs, err := r.task.Poll()
		if err != nil {
			var ce *connect.ConnectError
			if errors.As(err, &ce) {
				r.fail(err)
				return
			}
			r.log.Warn("poll failed, retrying", "err", err)
		}
		if len(recs) == 0 {
			if err := r.offsets.FlushDue(ctx); err != nil {
				r.log.Warn("offset flush failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}
		for _, rec := range recs {
			if err := r.handle(rec); err != nil {
				r.fail(err)
				return
			}
		}
	}
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.status, r.cause = StatusFailed, err
	r.mu.Unlock()
	r.log.Error("pipeline failed", "err", err)
}

// Close stops polling, stops the task, closes the sinks (which flushes their
// pending acks) and flushes offsets. It is safe to call more than once.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		started := r.done != nil
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()

		var errs []error
		if started {
			<-r.done
			if err := r.task.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop task: %w", err))
			}
		}
		if err := r.closeSinks(); err != nil {
			errs = append(errs, err)
		}
		if m := r.Offsets(); m != nil {
			if err := m.Close(context.Background()); err != nil {
				errs = append(errs, err)
			}
		} else if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}

		r.mu.Lock()
		if r.status != StatusFailed {
			r.status = StatusStopped
		}
		r.mu.Unlock()
		r.closeErr = errors.Join(errs...)
		r.log.Info("pipeline stopped")
	})
	return r.closeErr
}

func (r *Runner) closeSinks() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

/*──────── record routing ───────*/

func (r *Runner) handle(rec *connect.SourceRecord) error {
	seq := r.seq.Add(1)
	r.track(seq, rec)

	out, err := r.chain.Apply(rec)
	if err == nil && out == nil {
		telemetry.PipelineRecords.WithLabelValues(r.name, "filtered").Inc()
		r.complete(seq)
		return nil
	}
	var sr *sink.Record
	if err == nil {
		sr, err = r.convert(seq, out)
	}
	if err != nil {
		return r.tolerate(seq, err)
	}

	for _, s := range r.sinks {
		start := time.Now()
		err := s.a.Push(sr)
		telemetry.SinkLatency.WithLabelValues(r.name, s.name).Observe(time.Since(start).Seconds())
		if err != nil {
			return r.tolerate(seq, fmt.Errorf("sink %s: %w", s.name, err))
		}
		if !s.ackAware {
			r.ackSeq(seq)
		}
	}
	if len(r.sinks) == 0 {
		r.complete(seq)
	}
	telemetry.PipelineRecords.WithLabelValues(r.name, "delivered").Inc()
	return nil
}

// tolerate skips the record when errors are tolerated and returns err
// otherwise.
func (r *Runner) tolerate(seq uint64, err error) error {
	telemetry.PipelineRecords.WithLabelValues(r.name, "failed").Inc()
	if !r.tolerant {
		return err
	}
	r.log.Warn("record skipped", "seq", seq, "err", err)
	r.complete(seq)
	return nil
}

func (r *Runner) convert(seq uint64, rec *connect.SourceRecord) (*sink.Record, error) {
	out := &sink.Record{
		Seq:             seq,
		Topic:           rec.Topic,
		Partition:       rec.Partition,
		Timestamp:       rec.Timestamp,
		SourcePartition: rec.SourcePartition,
		SourceOffset:    rec.SourceOffset,
	}
	var err error
	if rec.Key != nil {
		if out.Key, err = r.keyConv.FromConnectData(rec.Topic, rec.KeySchema, rec.Key); err != nil {
			return nil, fmt.Errorf("convert key: %w", err)
		}
	}
	if out.Value, err = r.valueConv.FromConnectData(rec.Topic, rec.ValueSchema, rec.Value); err != nil {
		return nil, fmt.Errorf("convert value: %w", err)
	}
	for _, h := range rec.Headers.All() {
		v, err := r.headerConv.FromConnectHeader(rec.Topic, h.Key, h.Schema, h.Value)
		if err != nil {
			return nil, fmt.Errorf("convert header %s: %w", h.Key, err)
		}
		out.Headers = append(out.Headers, sink.Header{Key: h.Key, Value: v})
	}
	return out, nil
}

/*──────── acks & offsets ───────*/

func (r *Runner) track(seq uint64, rec *connect.SourceRecord) {
	r.ackMu.Lock()
	r.pending[seq] = &inflight{
		remaining: len(r.sinks),
		partition: rec.SourcePartition,
		offset:    rec.SourceOffset,
	}
	r.ackMu.Unlock()
}

// Ack is the sink.EmitFn bound to ack-aware sinks.
func (r *Runner) Ack(rec *sink.Record) { r.ackSeq(rec.Seq) }

func (r *Runner) ackSeq(seq uint64) {
	r.ackMu.Lock()
	e, ok := r.pending[seq]
	if !ok || e.done {
		r.ackMu.Unlock()
		return
	}
	e.remaining--
	if e.remaining > 0 {
		r.ackMu.Unlock()
		return
	}
	e.done = true
	due := r.advanceLocked()
	r.ackMu.Unlock()
	r.maybeFlush(due)
}

func (r *Runner) complete(seq uint64) {
	r.ackMu.Lock()
	if e, ok := r.pending[seq]; ok {
		e.done = true
	}
	due := r.advanceLocked()
	r.ackMu.Unlock()
	r.maybeFlush(due)
}

// advanceLocked records the offsets of the completed records at the head of
// the sequence, so a committed offset never passes an unacknowledged record.
func (r *Runner) advanceLocked() bool {
	due := false
	for {
		e, ok := r.pending[r.next]
		if !ok || !e.done {
			return due
		}
		delete(r.pending, r.next)
		r.next++
		if r.offsets == nil || (e.partition == nil && e.offset == nil) {
			continue
		}
		d, err := r.offsets.Record(e.partition, e.offset)
		if err != nil {
			r.log.Warn("offset not recorded", "err", err)
			continue
		}
		due = due || d
	}
}

func (r *Runner) maybeFlush(due bool) {
	if !due {
		return
	}
	if err := r.offsets.Flush(context.Background()); err != nil {
		r.log.Warn("offset flush failed", "err", err)
	}
}
