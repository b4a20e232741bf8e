package ckptdir

import "sync/atomic"

// Counter hands out the disambiguation values appended to temporary
// directory names. It is owned by whoever coordinates saves in a process;
// there is no package-level instance.
//
// Values are unique only within one Counter. A crashed run may leave behind
// a directory carrying a value that a fresh Counter hands out again, which
// is why Create removes incomplete leftovers before creating.
type Counter struct {
	next atomic.Int64
}

// NewCounter returns a Counter whose first value is start.
func NewCounter(start int64) *Counter {
	c := &Counter{}
	c.next.Store(start)
	return c
}

// Next returns the next value.
func (c *Counter) Next() int64 {
	return c.next.Add(1) - 1
}

// Peek returns the value Next would return without consuming it.
func (c *Counter) Peek() int64 {
	return c.next.Load()
}
