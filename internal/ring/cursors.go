package ring

import "sync/atomic"

// Cursors tracks the read/write offsets into a Ring of capacity L, plus
// the atomic byte-occupancy counter shared between a single producer and
// a single consumer. Offset fields themselves are not atomic: under the
// SPSC discipline required by the buffer, each offset has exactly one
// mutator (write_offset: producer; read_offset: consumer), so the shared
// occupancy counter is the only field that needs cross-thread visibility.
type Cursors struct {
	l           int
	readOffset  int
	writeOffset int
	written     atomic.Int64
}

// NewCursors returns cursors for a ring of logical capacity l, both
// offsets at zero and nothing written.
func NewCursors(l int) *Cursors {
	return &Cursors{l: l}
}

// Written returns the current byte occupancy. Acquire semantics: a
// producer's ForwardWrite release synchronizes-with this load.
func (c *Cursors) Written() int { return int(c.written.Load()) }

// ReadOffset returns the current read cursor.
func (c *Cursors) ReadOffset() int { return c.readOffset }

// WriteOffset returns the current write cursor.
func (c *Cursors) WriteOffset() int { return c.writeOffset }

// ForwardWrite commits n freshly written bytes: advances write_offset and
// releases written so the consumer can observe them.
func (c *Cursors) ForwardWrite(n int) {
	if n <= 0 {
		panic("ring: ForwardWrite requires n > 0")
	}
	c.writeOffset = (c.writeOffset + n) % c.l
	c.written.Add(int64(n))
}

// UnwindWrite reverses a ForwardWrite of n bytes that turned out not to
// have been committed (e.g. a rejected partial header write).
func (c *Cursors) UnwindWrite(n int) {
	if n <= 0 {
		panic("ring: UnwindWrite requires n > 0")
	}
	c.writeOffset = ((c.writeOffset-n)%c.l + c.l) % c.l
	c.written.Add(int64(-n))
}

// ForwardRead consumes n bytes: advances read_offset and releases the
// freed space back to the occupancy counter.
func (c *Cursors) ForwardRead(n int) {
	if n <= 0 {
		panic("ring: ForwardRead requires n > 0")
	}
	c.readOffset = (c.readOffset + n) % c.l
	c.written.Add(int64(-n))
}

// UnwindRead restores n bytes to the front of the read cursor, used when a
// header is read speculatively and must be "put back" (e.g. before
// rewriting it in place during a partial-read fix-up).
func (c *Cursors) UnwindRead(n int) {
	if n <= 0 {
		panic("ring: UnwindRead requires n > 0")
	}
	c.readOffset = ((c.readOffset-n)%c.l + c.l) % c.l
	c.written.Add(int64(n))
}
