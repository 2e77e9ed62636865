package offset

import (
	"sync/atomic"
	"time"
)

// Cadence decides when a periodic commit is due. It is safe for concurrent
// use; at most one caller sees Due return true per interval.
type Cadence struct {
	everyNS int64
	lastNS  atomic.Int64
}

func NewCadence(every time.Duration) *Cadence {
	return &Cadence{everyNS: every.Nanoseconds()}
}

func (c *Cadence) Due() bool {
	now := time.Now().UnixNano()
	last := c.lastNS.Load()
	if last+c.everyNS > now {
		return false
	}
	return c.lastNS.CompareAndSwap(last, now)
}

// Reset restarts the interval, typically after an explicit flush.
func (c *Cadence) Reset() { c.lastNS.Store(time.Now().UnixNano()) }
