package stream

import "sync"

// Cell is a single-slot, overwrite-on-write mailbox. A producer Puts as fast
// as it likes; a slower consumer only ever observes the newest value. Memory
// and staleness stay bounded because there is never more than one buffered
// value.
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	drops  uint64
	onDrop func(T)
}

// NewCell returns an empty cell. onDrop, if non-nil, is invoked with every
// value that is overwritten before being taken (used to release frame
// buffers); it runs under the cell lock and must be cheap.
func NewCell[T any](onDrop func(T)) *Cell[T] {
	return &Cell[T]{onDrop: onDrop}
}

// Put stores v, replacing any unconsumed value.
func (c *Cell[T]) Put(v T) {
	c.mu.Lock()
	if c.full {
		c.drops++
		if c.onDrop != nil {
			c.onDrop(c.value)
		}
	}
	c.value = v
	c.full = true
	c.mu.Unlock()
}

// Take removes and returns the buffered value, if any.
func (c *Cell[T]) Take() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		var zero T
		return zero, false
	}
	v := c.value
	var zero T
	c.value = zero
	c.full = false
	return v, true
}

// Drops returns how many values were overwritten before being taken.
func (c *Cell[T]) Drops() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}
