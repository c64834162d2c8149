package jitter

import "github.com/aminya/libjitter/internal/frame"

// updateWalker handles a real packet whose sequence number has already
// passed: it walks backward from the producer's tail through the
// previous_elements header chain until it finds the slot with the matching
// sequence number, then upgrades its payload in place if that slot is a
// concealment (a matching real slot is left unchanged).
type updateWalker struct {
	buf *Buffer
}

func (w *updateWalker) update(p Packet) int {
	b := w.buf
	l := b.ring.Len()

	local := b.cursors.WriteOffset()
	remaining := b.cursors.Written()

	first := int(b.latestWrittenElements)*b.elementSize + frame.Size
	if first > remaining {
		b.logger.Warn("jitter: update seq=%d wanted to step back %d bytes, only %d written", p.SequenceNumber, first, remaining)
		b.metrics.AddUpdateMissed(uint64(p.Elements))
		return 0
	}
	local = ((local-first)%l + l) % l
	remaining -= first

	rec := b.ring.At(local, frame.Size)
	h := frame.Decode(rec)

	for h.SequenceNumber != p.SequenceNumber {
		if !frame.TryAcquire(rec) {
			b.logger.Warn("jitter: update seq=%d blocked on in-use slot seq=%d, stopping walk", p.SequenceNumber, h.SequenceNumber)
			return 0
		}
		if watermark, ok := b.dontWalkBeyond.get(); ok && b.seqCmp.LessOrEqual(h.SequenceNumber, watermark) {
			b.logger.Warn("jitter: update seq=%d unreachable, walk stops at watermark seq=%d", p.SequenceNumber, watermark)
			frame.Release(rec)
			return 0
		}

		step := int(h.PreviousElements)*b.elementSize + frame.Size
		if step > remaining {
			b.logger.Warn("jitter: update seq=%d target not found before start of buffer", p.SequenceNumber)
			frame.Release(rec)
			b.metrics.AddUpdateMissed(uint64(p.Elements))
			return 0
		}
		local = ((local-step)%l + l) % l
		remaining -= step
		frame.Release(rec)

		rec = b.ring.At(local, frame.Size)
		h = frame.Decode(rec)
	}

	if !h.Concealment {
		// A real slot already occupies this sequence number; a stale
		// retransmit has nothing to upgrade.
		return 0
	}
	if !frame.TryAcquire(rec) {
		b.logger.Warn("jitter: update seq=%d target is currently being read", p.SequenceNumber)
		return 0
	}

	payload := b.ring.At((local+frame.Size)%l, int(h.Elements)*b.elementSize)
	srcOffset := (p.Elements - int(h.Elements)) * b.elementSize
	copy(payload, p.Data[srcOffset:srcOffset+len(payload)])

	frame.SetConcealment(rec, false)
	frame.Release(rec)

	b.metrics.AddUpdated(uint64(h.Elements))
	return int(h.Elements)
}
