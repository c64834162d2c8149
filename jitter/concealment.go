package jitter

import "github.com/aminya/libjitter/internal/frame"

// concealmentEngine synthesizes contiguous placeholder slots, exposes
// their payload windows to a caller-supplied callback, and only publishes
// them to the consumer once the callback returns. It carries no state
// beyond a Buffer pointer; every field it touches lives on Buffer.
type concealmentEngine struct {
	buf *Buffer
}

// generate synthesizes up to requested slots (a count of packets, not
// elements) and returns the number of elements actually synthesized.
// Callers must only invoke this once b.haveLastWritten is true.
func (e *concealmentEngine) generate(requested int, cb ConcealmentCallback) int {
	b := e.buf
	if requested <= 0 {
		return 0
	}

	slot := b.slotSize(b.packetElements)
	free := b.ring.Len() - b.cursors.Written()
	fit := free / slot
	k := requested
	if fit < k {
		k = fit
	}
	if k <= 0 {
		b.logger.Warn("jitter: concealment budget exceeded, requested=%d fit=%d", requested, fit)
		return 0
	}
	if k < requested {
		b.logger.Warn("jitter: concealment budget exceeded, requested=%d synthesized=%d", requested, k)
	}

	l := b.ring.Len()
	local := b.cursors.WriteOffset()
	previous := b.latestWrittenElements
	last := b.lastWrittenSeq

	packets := make([]ConcealmentPacket, k)
	for i := 0; i < k; i++ {
		seq := last + uint32(i) + 1
		h := frame.Header{
			SequenceNumber:   seq,
			Elements:         uint32(b.packetElements),
			PreviousElements: previous,
			Timestamp:        b.nowMS(),
			Concealment:      true,
		}
		frame.Encode(b.ring.At(local, frame.Size), h)

		payloadOff := (local + frame.Size) % l
		packets[i] = ConcealmentPacket{
			SequenceNumber: seq,
			Data:           b.ring.At(payloadOff, b.packetElements*b.elementSize),
		}

		previous = uint32(b.packetElements)
		local = (local + slot) % l
	}

	// written is deliberately left untouched until the callback returns:
	// the consumer must never observe an uncommitted slot.
	if cb != nil {
		cb(packets)
	}

	b.cursors.ForwardWrite(k * slot)
	b.writtenElements.Add(int64(k * b.packetElements))
	b.lastWrittenSeq = last + uint32(k)
	b.haveLastWritten = true
	b.latestWrittenElements = uint32(b.packetElements)

	return k * b.packetElements
}
