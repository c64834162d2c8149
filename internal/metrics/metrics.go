// Package metrics holds the counters the buffer reports through
// jitter.Buffer.Metrics. original_source/include/Metrics.h names the
// discontinuity counter ConcealedPackets, kept here only as a doc comment
// for continuity.
package metrics

import "sync/atomic"

// Counters is a best-effort snapshot of buffer activity. Each field is
// backed by an atomic counter so Snapshot stays race-free even under
// concurrent producer/consumer access.
type Counters struct {
	concealedFrames    atomic.Uint64 // ConcealedFrames: synthesized to cover a sequence discontinuity
	filledPackets      atomic.Uint64 // FilledPackets: synthesized to satisfy min-fill top-up
	skippedFrames      atomic.Uint64 // SkippedFrames: dropped at Dequeue for exceeding max_length
	updatedFrames      atomic.Uint64 // UpdatedFrames: concealment slots upgraded to real data
	updateMissedFrames atomic.Uint64 // UpdateMissedFrames: real packets that couldn't find their concealment slot
}

// Snapshot is the read-only value returned by jitter.Buffer.Metrics.
type Snapshot struct {
	ConcealedFrames    uint64
	FilledPackets      uint64
	SkippedFrames      uint64
	UpdatedFrames      uint64
	UpdateMissedFrames uint64
}

func (c *Counters) AddConcealed(n uint64)    { c.concealedFrames.Add(n) }
func (c *Counters) AddFilled(n uint64)       { c.filledPackets.Add(n) }
func (c *Counters) AddSkipped(n uint64)      { c.skippedFrames.Add(n) }
func (c *Counters) AddUpdated(n uint64)      { c.updatedFrames.Add(n) }
func (c *Counters) AddUpdateMissed(n uint64) { c.updateMissedFrames.Add(n) }

// Snapshot returns a consistent-enough point-in-time read of all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ConcealedFrames:    c.concealedFrames.Load(),
		FilledPackets:      c.filledPackets.Load(),
		SkippedFrames:      c.skippedFrames.Load(),
		UpdatedFrames:      c.updatedFrames.Load(),
		UpdateMissedFrames: c.updateMissedFrames.Load(),
	}
}
