// Package jitter implements a real-time jitter buffer for fixed-size media
// frames: a single producer enqueues sequence-numbered packets, a single
// consumer dequeues element-level data, and the buffer synthesizes
// placeholder ("concealment") payloads to absorb arrival jitter and
// sequence gaps.
//
// The storage engine is a double-mapped byte ring (internal/ring) so every
// copy proceeds as a single linear memcpy even across the physical wrap
// boundary, plus a fixed-size on-ring header (internal/frame) that lets the
// consumer perform partial (variable-consumption) reads and lets the
// producer walk backward through the header chain to upgrade a previously
// synthesized concealment slot once the real packet arrives.
package jitter

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aminya/libjitter/internal/frame"
	"github.com/aminya/libjitter/internal/logging"
	"github.com/aminya/libjitter/internal/metrics"
	"github.com/aminya/libjitter/internal/ring"
)

// Buffer is one jitter buffer instance: the ring, its read/write cursors,
// and the bookkeeping the producer and consumer sides each need. A
// Buffer's producer-side methods (Enqueue, Prepare) must be called from a
// single goroutine; its consumer-side method (Dequeue) must be called from
// a single, possibly different, goroutine. CurrentDepth and Metrics may be
// called from any goroutine.
type Buffer struct {
	ring    *ring.Ring
	cursors *ring.Cursors

	elementSize    int
	packetElements int
	clockRateHz    uint32
	maxLengthMS    uint64
	minLengthMS    uint64

	logger  logging.Logger
	metrics *metrics.Counters

	// writtenElements mirrors the source's written_elements: the running
	// sum of live elements used for depth/play-gate arithmetic. It is
	// touched by both producer (Enqueue/concealment) and consumer
	// (Dequeue), so it stays atomic even though a single producer and a
	// single consumer would tolerate plain loads.
	writtenElements atomic.Int64

	// Producer-exclusive fields: only Enqueue/Prepare (and the walker and
	// concealment engine they invoke) ever read or write these, so they
	// need no synchronization of their own.
	lastWrittenSeq        uint32
	haveLastWritten       bool
	latestWrittenElements uint32

	play           atomic.Bool
	dontWalkBeyond seqWatermark

	now    func() time.Time
	seqCmp SequenceComparator
}

// New constructs a Buffer. elementSize is the payload unit in bytes,
// packetElements the element count of every incoming packet, clockRateHz
// the media clock rate, maxLengthMS/minLengthMS the eviction and min-fill
// thresholds — these five stay positional since they are load-bearing
// dimensions of the buffer, not optional tuning knobs. Everything else
// (logger, clock, sequence ordering, shared metrics) is supplied through
// opts. Construction fails with ErrInvalidArgument if maxLengthMS is
// non-positive or a packet's duration would be under 1ms, and with
// ErrVirtualMemory if the ring cannot be mapped.
func New(elementSize, packetElements int, clockRateHz uint32, maxLengthMS, minLengthMS uint64, opts ...Option) (*Buffer, error) {
	if elementSize <= 0 || packetElements <= 0 || clockRateHz == 0 {
		return nil, fmt.Errorf("%w: elementSize=%d packetElements=%d clockRateHz=%d must all be positive", ErrInvalidArgument, elementSize, packetElements, clockRateHz)
	}
	if maxLengthMS == 0 {
		return nil, fmt.Errorf("%w: maxLengthMS must be > 0, got %d", ErrInvalidArgument, maxLengthMS)
	}
	perPacketMS := uint64(packetElements) * 1000 / uint64(clockRateHz)
	if perPacketMS < 1 {
		return nil, fmt.Errorf("%w: packetElements=%d at clockRateHz=%d yields a sub-1ms packet duration", ErrInvalidArgument, packetElements, clockRateHz)
	}

	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = &metrics.Counters{}
	}
	if cfg.logger == nil {
		cfg.logger = logging.Nop()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.seqCmp == nil {
		cfg.seqCmp = rfc1982Comparator{}
	}

	length := maxLengthMS * uint64(clockRateHz/1000) * uint64(elementSize+frame.Size)
	if length == 0 {
		length = uint64(elementSize + frame.Size)
	}

	vr, err := ring.New(int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVirtualMemory, err)
	}
	cfg.logger.Debug("jitter: allocated buffer with %d bytes", vr.Len())

	return &Buffer{
		ring:           vr,
		cursors:        ring.NewCursors(vr.Len()),
		elementSize:    elementSize,
		packetElements: packetElements,
		clockRateHz:    clockRateHz,
		maxLengthMS:    maxLengthMS,
		minLengthMS:    minLengthMS,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
		now:            cfg.now,
		seqCmp:         cfg.seqCmp,
	}, nil
}

// Close releases the buffer's virtual memory mapping. VM release failures
// are logged, not returned: a destructor-style teardown path shouldn't
// throw, so any unmap error is reported through the logger instead.
func (b *Buffer) Close() {
	if err := b.ring.Close(); err != nil {
		b.logger.Error("jitter: %v", err)
	}
}

func (b *Buffer) nowMS() uint64 { return uint64(b.now().UnixMilli()) }

func (b *Buffer) perPacketMS() uint64 {
	return uint64(b.packetElements) * 1000 / uint64(b.clockRateHz)
}

func (b *Buffer) slotSize(elements int) int { return frame.Size + elements*b.elementSize }

func (b *Buffer) currentDepthMS() uint64 {
	return uint64(b.writtenElements.Load()) * 1000 / uint64(b.clockRateHz)
}

// CurrentDepth returns the buffered media duration.
func (b *Buffer) CurrentDepth() time.Duration {
	return time.Duration(b.currentDepthMS()) * time.Millisecond
}

// Metrics returns a best-effort snapshot of buffer activity.
func (b *Buffer) Metrics() metrics.Snapshot { return b.metrics.Snapshot() }

// Prepare eagerly synthesizes concealments for the gap ahead of an
// about-to-arrive real packet numbered sequenceNumber. It is idempotent
// for sequenceNumber <= last+1 and a no-op before the first real packet
// has ever been written.
func (b *Buffer) Prepare(sequenceNumber uint32, cb ConcealmentCallback) int {
	if !b.haveLastWritten {
		return 0
	}
	if b.seqCmp.LessOrEqual(sequenceNumber, b.lastWrittenSeq) {
		return 0
	}
	if sequenceNumber == b.lastWrittenSeq+1 {
		return 0
	}

	missing := b.seqCmp.Distance(b.lastWrittenSeq, sequenceNumber) - 1
	eng := concealmentEngine{buf: b}
	n := eng.generate(int(missing), cb)
	b.metrics.AddConcealed(uint64(n))
	return n
}

// Enqueue writes packets (real data, in-place updates to earlier
// concealments, or both) and returns the total element count enqueued. cb
// is invoked once per sequence gap this call discovers, and once more when
// the min-fill top-up synthesizes concealment.
func (b *Buffer) Enqueue(packets []Packet, cb ConcealmentCallback) (int, error) {
	var enqueued int

	for _, p := range packets {
		if b.haveLastWritten && b.seqCmp.LessOrEqual(p.SequenceNumber, b.lastWrittenSeq) {
			w := updateWalker{buf: b}
			enqueued += w.update(p)
			continue
		}

		if b.haveLastWritten {
			missing := b.seqCmp.Distance(b.lastWrittenSeq, p.SequenceNumber) - 1
			if missing > 0 {
				eng := concealmentEngine{buf: b}
				n := eng.generate(int(missing), cb)
				enqueued += n
				b.metrics.AddConcealed(uint64(n))
			}
		}

		if p.Elements != b.packetElements {
			return enqueued, fmt.Errorf("%w: packet declares %d elements, buffer configured for %d", ErrInvalidArgument, p.Elements, b.packetElements)
		}

		n := b.copyIntoBuffer(p)
		if n == 0 {
			b.logger.Warn("jitter: no space, dropping packet seq=%d", p.SequenceNumber)
			break
		}
		enqueued += n
		b.lastWrittenSeq = p.SequenceNumber
		b.haveLastWritten = true
	}

	if b.play.Load() {
		gap := int64(b.minLengthMS) - int64(b.currentDepthMS())
		if gap > 0 {
			perPacket := b.perPacketMS()
			needPackets := int((uint64(gap) + perPacket - 1) / perPacket)
			eng := concealmentEngine{buf: b}
			n := eng.generate(needPackets, cb)
			enqueued += n
			b.metrics.AddFilled(uint64(n))
		}
	}

	if !b.play.Load() && b.currentDepthMS() >= b.minLengthMS*3/2 {
		b.play.Store(true)
	}

	return enqueued, nil
}

// copyIntoBuffer writes packet p as a real slot: header first, payload
// clamped to whatever whole-element span still fits, returning the
// element count actually committed, or 0 if there was no room for even a
// header.
func (b *Buffer) copyIntoBuffer(p Packet) int {
	l := b.ring.Len()
	if l-b.cursors.Written() < frame.Size {
		return 0
	}

	headerOff := b.cursors.WriteOffset()
	payloadOff := (headerOff + frame.Size) % l

	freeForPayload := l - b.cursors.Written() - frame.Size
	payloadBytes := len(p.Data)
	if declared := p.Elements * b.elementSize; payloadBytes > declared {
		payloadBytes = declared
	}
	if payloadBytes > freeForPayload {
		payloadBytes = freeForPayload
	}
	payloadBytes -= payloadBytes % b.elementSize
	if payloadBytes == 0 {
		return 0
	}

	copy(b.ring.At(payloadOff, payloadBytes), p.Data[:payloadBytes])

	elements := uint32(payloadBytes / b.elementSize)
	frame.Encode(b.ring.At(headerOff, frame.Size), frame.Header{
		SequenceNumber:   p.SequenceNumber,
		Elements:         elements,
		PreviousElements: b.latestWrittenElements,
		Timestamp:        b.nowMS(),
		Concealment:      false,
	})

	b.cursors.ForwardWrite(frame.Size + payloadBytes)
	b.writtenElements.Add(int64(elements))
	b.latestWrittenElements = elements

	return int(elements)
}

// Dequeue copies up to elements worth of payload into dest and returns the
// element count actually delivered. It returns 0 without error before
// playback has started (CurrentDepth has never reached 1.5*minLength).
func (b *Buffer) Dequeue(dest []byte, elements int) (int, error) {
	if !b.play.Load() {
		return 0, nil
	}

	requiredBytes := elements * b.elementSize
	if len(dest) < requiredBytes {
		return 0, fmt.Errorf("%w: destination has %d bytes, need %d for %d elements", ErrInvalidArgument, len(dest), requiredBytes, elements)
	}

	l := b.ring.Len()
	var dequeuedBytes int

	for dequeuedBytes < requiredBytes {
		if b.cursors.Written() < frame.Size {
			break
		}

		headerOff := b.cursors.ReadOffset()
		rec := b.ring.At(headerOff, frame.Size)
		h := frame.Decode(rec)
		b.cursors.ForwardRead(frame.Size)

		if h.Concealment && !frame.TryAcquire(rec) {
			b.logger.Warn("jitter: dequeue skipping seq=%d, currently being updated", h.SequenceNumber)
			b.cursors.ForwardRead(int(h.Elements) * b.elementSize)
			continue
		}
		holdsInUse := h.Concealment

		age := b.nowMS() - h.Timestamp
		if age >= b.maxLengthMS {
			b.cursors.ForwardRead(int(h.Elements) * b.elementSize)
			b.metrics.AddSkipped(uint64(h.Elements))
			if holdsInUse {
				frame.Release(rec)
			}
			continue
		}

		availableBytes := int(h.Elements) * b.elementSize
		capacityRemaining := len(dest) - dequeuedBytes
		requiredRemaining := requiredBytes - dequeuedBytes
		take := min(availableBytes, capacityRemaining, requiredRemaining)

		payloadOff := (headerOff + frame.Size) % l
		copy(dest[dequeuedBytes:dequeuedBytes+take], b.ring.At(payloadOff, take))
		b.cursors.ForwardRead(take)

		if take < availableBytes {
			// A whole-element remainder of this slot's payload is still
			// live. The header can't simply be edited in place: read_offset
			// has already moved take bytes into the old payload, so the
			// slot's header is relocated to sit immediately before the
			// leftover bytes, exactly H bytes ahead of where they start.
			b.cursors.UnwindRead(frame.Size)
			newOff := b.cursors.ReadOffset()
			newElements := uint32((availableBytes - take) / b.elementSize)

			relocated := h
			relocated.Elements = newElements
			newRec := b.ring.At(newOff, frame.Size)
			frame.Encode(newRec, relocated)
			frame.Release(newRec) // fresh location; previous bytes were payload, not a flag.

			if b.cursors.Written() >= 2*frame.Size+int(newElements)*b.elementSize {
				nextOff := (headerOff + frame.Size + availableBytes) % l
				nextRec := b.ring.At(nextOff, frame.Size)
				if frame.TryAcquire(nextRec) {
					frame.SetPreviousElements(nextRec, newElements)
					frame.Release(nextRec)
				} else {
					next := frame.Decode(nextRec)
					b.logger.Error("jitter: can't update next header seq=%d after partial read of seq=%d, walks will stop here", next.SequenceNumber, h.SequenceNumber)
					b.dontWalkBeyond.set(next.SequenceNumber)
				}
			}
		} else if holdsInUse {
			frame.Release(rec)
		}

		dequeuedBytes += take
	}

	dequeuedElements := dequeuedBytes / b.elementSize
	b.writtenElements.Add(-int64(dequeuedElements))
	return dequeuedElements, nil
}

// PeekPacketOffset returns the payload of the offsetPackets-th whole packet
// currently buffered ahead of the read cursor (0 is the next packet
// Dequeue would consume), without advancing any cursor or touching a
// slot's in_use flag. It is a diagnostic read, ported from the original
// GetReadPointerAtPacketOffset used by that implementation's test
// harness: unlike the original's fixed-stride pointer arithmetic, this
// walk decodes each header in turn, since a slot upgraded by the update
// walker can legitimately hold fewer elements than packetElements after a
// partial read relocated it.
//
// It returns ErrInvalidArgument if offsetPackets is negative or beyond
// the number of whole packets currently written.
func (b *Buffer) PeekPacketOffset(offsetPackets int) ([]byte, error) {
	if offsetPackets < 0 {
		return nil, fmt.Errorf("%w: offsetPackets=%d must be >= 0", ErrInvalidArgument, offsetPackets)
	}

	l := b.ring.Len()
	off := b.cursors.ReadOffset()
	remaining := b.cursors.Written()

	for i := 0; ; i++ {
		if remaining < frame.Size {
			return nil, fmt.Errorf("%w: offsetPackets=%d exceeds %d buffered packet(s)", ErrInvalidArgument, offsetPackets, i)
		}

		h := frame.Decode(b.ring.At(off, frame.Size))
		payloadOff := (off + frame.Size) % l
		payloadBytes := int(h.Elements) * b.elementSize

		if i == offsetPackets {
			return b.ring.At(payloadOff, payloadBytes), nil
		}

		step := frame.Size + payloadBytes
		off = (off + step) % l
		remaining -= step
	}
}
