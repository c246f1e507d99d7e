package ingestion

import (
	"sync/atomic"
	"time"
)

// Connectivity is the upstream connection flag. Only the pipeline that
// owns it can change it; everyone else reads.
type Connectivity struct {
	connected atomic.Bool
	changedAt atomic.Int64 // Unix nanoseconds, 0 if never changed
	changes   atomic.Int64
}

// NewConnectivity returns a flag in the disconnected state.
func NewConnectivity() *Connectivity {
	return &Connectivity{}
}

// Connected returns true while the transport session is up.
func (c *Connectivity) Connected() bool {
	return c.connected.Load()
}

// Since returns when the flag last changed. Zero if it never has.
func (c *Connectivity) Since() time.Time {
	ns := c.changedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Changes returns how many times the flag has flipped.
func (c *Connectivity) Changes() int64 {
	return c.changes.Load()
}

// set updates the flag and returns true if the value changed.
func (c *Connectivity) set(connected bool, at time.Time) bool {
	if c.connected.Swap(connected) == connected {
		return false
	}
	c.changedAt.Store(at.UnixNano())
	c.changes.Add(1)
	return true
}
