package offset

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"routex/internal/logging"
	"routex/internal/telemetry"
)

// Manager stages the latest offset per source partition and writes staged
// offsets to its store when the commit cadence says so.
type Manager struct {
	store     Store
	storeName string
	cadence   *Cadence
	log       *slog.Logger

	mu        sync.Mutex
	staged    map[string]Entry
	committed map[string]Entry
}

// Open loads the committed offsets from store.
func Open(ctx context.Context, store Store, storeName string, commitEvery time.Duration) (*Manager, error) {
	committed, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		store:     store,
		storeName: storeName,
		cadence:   NewCadence(commitEvery),
		log:       logging.L().With("component", "offset", "store", storeName),
		staged:    map[string]Entry{},
		committed: committed,
	}
	m.cadence.Reset()
	return m, nil
}

// Record stages offset for partition and reports whether a flush is due.
func (m *Manager) Record(partition, offset map[string]any) (bool, error) {
	key, err := Key(partition)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	m.staged[key] = Entry{Partition: partition, Offset: offset}
	m.mu.Unlock()
	return m.cadence.Due(), nil
}

// Flush writes every staged offset. On failure the offsets stay staged,
// unless a newer one was recorded meanwhile.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.staged
	m.staged = map[string]Entry{}
	m.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := m.store.Save(ctx, batch); err != nil {
		telemetry.OffsetFlushes.WithLabelValues(m.storeName, "failed").Inc()
		m.mu.Lock()
		for k, v := range batch {
			if _, newer := m.staged[k]; !newer {
				m.staged[k] = v
			}
		}
		m.mu.Unlock()
		return fmt.Errorf("offset flush: %w", err)
	}

	m.mu.Lock()
	maps.Copy(m.committed, batch)
	m.mu.Unlock()
	m.cadence.Reset()
	telemetry.OffsetFlushes.WithLabelValues(m.storeName, "ok").Inc()
	m.log.Debug("offsets flushed", "partitions", len(batch))
	return nil
}

// FlushDue flushes the staged offsets when the commit interval has elapsed
// since the last flush, whether or not new records arrived meanwhile.
func (m *Manager) FlushDue(ctx context.Context) error {
	if !m.cadence.Due() {
		return nil
	}
	return m.Flush(ctx)
}

// Offset returns the latest known offset of partition, staged or committed.
func (m *Manager) Offset(partition map[string]any) (map[string]any, bool) {
	key, err := Key(partition)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.staged[key]; ok {
		return e.Offset, true
	}
	if e, ok := m.committed[key]; ok {
		return e.Offset, true
	}
	return nil, false
}

// Committed returns a copy of every offset written to the store.
func (m *Manager) Committed() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.committed)
}

// Close flushes what is staged and closes the store.
func (m *Manager) Close(ctx context.Context) error {
	ferr := m.Flush(ctx)
	if err := m.store.Close(); err != nil && ferr == nil {
		return err
	}
	return ferr
}
