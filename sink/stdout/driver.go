package stdout

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"routex/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS      int  `yaml:"delay_ms" mapstructure:"delay_ms" validate:"min=0"`             // artificial per-record delay
	PrintCounter bool `yaml:"print_counter" mapstructure:"print_counter"`                    // prepend seq#
	PrintValue   bool `yaml:"print_value" mapstructure:"print_value"`                        // print the value bytes
	BatchSize    int  `yaml:"ack_batch_size" mapstructure:"ack_batch_size" validate:"min=0"` // 0 = disabled
	FlushMS      int  `yaml:"ack_flush_ms" mapstructure:"ack_flush_ms" validate:"min=0"`     // 0 = disabled

	Out io.Writer `yaml:"-" mapstructure:"-"` // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	out io.Writer
	ack sink.EmitFn
	seq atomic.Uint64

	mu      sync.Mutex // guards pending+timer+out
	pending []*sink.Record
	timer   *time.Timer // nil → no timer armed
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	var c Config
	if err := sink.Decode(raw, &c); err != nil {
		return fmt.Errorf("stdout-sink: %w", err)
	}
	d.cfg = c
	d.out = c.Out
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Push(r *sink.Record) error {
	if d.cfg.DelayMS > 0 {
		time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.printLocked(r); err != nil {
		return fmt.Errorf("stdout-sink: %w", err)
	}
	d.pending = append(d.pending, r)

	/* 1. no batching at all: ack right away */
	if d.cfg.BatchSize == 0 && d.cfg.FlushMS == 0 {
		d.flushLocked()
		return nil
	}

	/* 2. flush on batch size */
	if d.cfg.BatchSize > 0 && len(d.pending) >= d.cfg.BatchSize {
		d.flushLocked()
		return nil
	}

	/* 3. (re)-arm the one-shot timer if needed */
	if d.cfg.FlushMS > 0 && d.timer == nil {
		d.timer = time.AfterFunc(
			time.Duration(d.cfg.FlushMS)*time.Millisecond,
			d.timerFlush,
		)
	}
	return nil
}

func (d *driver) printLocked(r *sink.Record) error {
	var err error
	switch {
	case d.cfg.PrintCounter && d.cfg.PrintValue:
		_, err = fmt.Fprintf(d.out, "[sink %06d] %s headers=%d %s\n", d.seq.Add(1), r.Topic, len(r.Headers), r.Value)
	case d.cfg.PrintCounter:
		_, err = fmt.Fprintf(d.out, "[sink %06d] %s headers=%d bytes=%d\n", d.seq.Add(1), r.Topic, len(r.Headers), len(r.Value))
	case d.cfg.PrintValue:
		_, err = fmt.Fprintf(d.out, "%s\n", r.Value)
	}
	return err
}

func (d *driver) Close() error {
	d.mu.Lock()
	d.flushLocked()
	d.mu.Unlock()
	return nil
}

/* ────────── sink.AckAware ────────── */
func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

/* ────────── internals ────────── */

// called by the background timer goroutine
func (d *driver) timerFlush() {
	d.mu.Lock()
	d.flushLocked()
	d.mu.Unlock()
}

// must be called with d.mu *held*
func (d *driver) flushLocked() {
	if len(d.pending) == 0 {
		d.stopTimerLocked()
		return
	}
	if d.ack != nil {
		for _, r := range d.pending {
			d.ack(r)
		}
	}
	d.pending = d.pending[:0]
	d.stopTimerLocked() // re-arm on next Push if needed
}

func (d *driver) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
