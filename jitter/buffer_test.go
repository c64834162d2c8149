package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aminya/libjitter/internal/frame"
	"github.com/aminya/libjitter/internal/logging"
	"github.com/aminya/libjitter/internal/metrics"
	"github.com/aminya/libjitter/jittertest"
)

// fakeClock lets tests advance Buffer.now deterministically instead of
// sleeping real wall-clock time, for scenarios that assert on elapsed-time
// behavior like expiry-under-playout.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time  { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestBuffer builds the buffer this file's scenarios share:
// frame_size=4, packet_elements=480, clock_rate=48000, max=100ms, min=0.
func newTestBuffer(t *testing.T) (*Buffer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b, err := New(4, 480, 48000, 100, 0, WithLogger(logging.Nop()), WithClock(clock.now))
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b, clock
}

func fill(pattern byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = pattern
	}
	return data
}

func zeroCallback(packets []ConcealmentPacket) {
	for _, p := range packets {
		for i := range p.Data {
			p.Data[i] = 0
		}
	}
}

// ringSlot pairs a decoded header with the ring offset of its payload, for
// assertions that need to see the ring's physical sequence order and
// contents, e.g. checking that expiry and concealment leave the right
// slots behind.
type ringSlot struct {
	header    frame.Header
	payloadOf int
}

// slotsInOrder decodes every live header from the current read cursor
// forward.
func slotsInOrder(b *Buffer) []ringSlot {
	var out []ringSlot
	off := b.cursors.ReadOffset()
	remaining := b.cursors.Written()
	for remaining >= frame.Size {
		h := frame.Decode(b.ring.At(off, frame.Size))
		payloadOff := (off + frame.Size) % b.ring.Len()
		out = append(out, ringSlot{header: h, payloadOf: payloadOff})
		step := frame.Size + int(h.Elements)*b.elementSize
		off = (off + step) % b.ring.Len()
		remaining -= step
	}
	return out
}

// --- scenario 1: construct + empty dequeue ---

func TestScenario1_ConstructAndEmptyDequeue(t *testing.T) {
	b, _ := newTestBuffer(t)

	dest := make([]byte, 480*4)
	n, err := b.Dequeue(dest, 480)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// --- scenario 2: enqueue seq=1 + dequeue 480 ---

func TestScenario2_EnqueueThenDequeueRoundTrip(t *testing.T) {
	b, _ := newTestBuffer(t)

	payload := fill(0x7A, 480*4)
	n, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: payload}}, zeroCallback)
	require.NoError(t, err)
	require.Equal(t, 480, n)

	dest := make([]byte, 480*4)
	got, err := b.Dequeue(dest, 480)
	require.NoError(t, err)
	require.Equal(t, 480, got)
	require.Equal(t, payload, dest)
	require.Equal(t, time.Duration(0), b.CurrentDepth())
}

// --- scenario 3: runover read across a packet boundary ---

func TestScenario3_RunoverRead(t *testing.T) {
	b, _ := newTestBuffer(t)

	p0 := fill(0x01, 480*4)
	p1 := fill(0x02, 480*4)
	_, err := b.Enqueue([]Packet{
		{SequenceNumber: 0, Elements: 480, Data: p0},
		{SequenceNumber: 1, Elements: 480, Data: p1},
	}, zeroCallback)
	require.NoError(t, err)

	dest := make([]byte, 512*4)
	n, err := b.Dequeue(dest, 512)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	require.Equal(t, fill(0x01, 480*4), dest[:480*4])
	require.Equal(t, fill(0x02, 32*4), dest[480*4:512*4])

	dest2 := make([]byte, 512*4)
	n2, err := b.Dequeue(dest2, 512)
	require.NoError(t, err)
	require.Equal(t, 448, n2)
	require.Equal(t, fill(0x02, 448*4), dest2[:448*4])

	dest3 := make([]byte, 512*4)
	n3, err := b.Dequeue(dest3, 512)
	require.NoError(t, err)
	require.Equal(t, 0, n3)
}

// --- scenario 4: concealment fills a mid-stream gap ---

func TestScenario4_ConcealmentFillsGap(t *testing.T) {
	b, _ := newTestBuffer(t)

	seenSequences := []uint32{}
	firstData := fill(0x02, 480*4)
	_, err := b.Enqueue([]Packet{{SequenceNumber: 2, Elements: 480, Data: firstData}}, zeroCallback)
	require.NoError(t, err)

	n, err := b.Enqueue([]Packet{{SequenceNumber: 5, Elements: 480, Data: fill(0x05, 480*4)}}, func(packets []ConcealmentPacket) {
		for _, p := range packets {
			seenSequences = append(seenSequences, p.SequenceNumber)
			for i := range p.Data {
				p.Data[i] = 0
			}
		}
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{3, 4}, seenSequences)
	require.Equal(t, 3*480, n)

	slots := slotsInOrder(b)
	require.Len(t, slots, 4)
	var seqs []uint32
	for _, s := range slots {
		seqs = append(seqs, s.header.SequenceNumber)
	}
	require.Equal(t, []uint32{2, 3, 4, 5}, seqs)
	require.False(t, slots[0].header.Concealment)
	require.True(t, slots[1].header.Concealment)
	require.True(t, slots[2].header.Concealment)
	require.False(t, slots[3].header.Concealment)
}

// --- scenario 5: a late real packet upgrades its concealment slot ---

func TestScenario5_UpdateUpgradesConcealmentSlot(t *testing.T) {
	b, _ := newTestBuffer(t)

	_, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	_, err = b.Enqueue([]Packet{{SequenceNumber: 3, Elements: 480, Data: fill(0x03, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	real := fill(0x02, 480*4)
	n, err := b.Enqueue([]Packet{{SequenceNumber: 2, Elements: 480, Data: real}}, zeroCallback)
	require.NoError(t, err)
	require.Equal(t, 480, n)

	slots := slotsInOrder(b)
	require.Len(t, slots, 3)
	require.Equal(t, uint32(2), slots[1].header.SequenceNumber)
	require.False(t, slots[1].header.Concealment)
	require.Equal(t, real, b.ring.At(slots[1].payloadOf, 480*4))
}

// --- scenario 6: expiry skips a stale slot on dequeue ---

func TestScenario6_ExpirySkipsStaleSlot(t *testing.T) {
	b, clock := newTestBuffer(t)

	_, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	clock.advance(100 * time.Millisecond)

	_, err = b.Enqueue([]Packet{{SequenceNumber: 2, Elements: 480, Data: fill(0x02, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	dest := make([]byte, 480*4)
	n, err := b.Dequeue(dest, 480)
	require.NoError(t, err)
	require.Equal(t, 480, n)
	require.Equal(t, fill(0x02, 480*4), dest)

	require.Equal(t, uint64(480), b.Metrics().SkippedFrames)
}

// --- scenario 7: a partial dequeue precedes the update, fix-up still works ---

func TestScenario7_PartialReadThenUpdate(t *testing.T) {
	b, _ := newTestBuffer(t)

	_, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)
	_, err = b.Enqueue([]Packet{{SequenceNumber: 3, Elements: 480, Data: fill(0x03, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	dest := make([]byte, 720*4)
	got, err := b.Dequeue(dest, 720)
	require.NoError(t, err)
	require.Equal(t, 720, got)

	real := fill(0x02, 480*4)
	n, err := b.Enqueue([]Packet{{SequenceNumber: 2, Elements: 480, Data: real}}, zeroCallback)
	require.NoError(t, err)
	require.Equal(t, 240, n)
}

// --- scenario 8: element-count mismatch is rejected ---

func TestScenario8_ElementCountMismatch(t *testing.T) {
	b, _ := newTestBuffer(t)

	_, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 960, Data: fill(0x00, 960*4)}}, zeroCallback)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Contains(t, err.Error(), "960")
	require.Contains(t, err.Error(), "480")
}

// --- construction boundaries ---

func TestNewRejectsZeroMaxLength(t *testing.T) {
	_, err := New(4, 480, 48000, 0, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewRejectsSubMillisecondPackets(t *testing.T) {
	_, err := New(4, 1, 48000, 100, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewDefaultsLoggerClockAndComparatorWhenOmitted(t *testing.T) {
	b, err := New(4, 480, 48000, 100, 0)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.NotNil(t, b.logger)
	require.NotNil(t, b.now)
	require.NotNil(t, b.seqCmp)
	require.IsType(t, rfc1982Comparator{}, b.seqCmp)
}

// --- dequeue boundary: undersized destination is rejected without side effects ---

func TestDequeueRejectsUndersizedDestination(t *testing.T) {
	b, _ := newTestBuffer(t)
	_, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	before := b.CurrentDepth()
	_, err = b.Dequeue(make([]byte, 10), 480)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Equal(t, before, b.CurrentDepth())
}

// --- options ---

func TestWithMetricsSharesCounters(t *testing.T) {
	shared := &metrics.Counters{}
	b, err := New(4, 480, 48000, 100, 0, WithLogger(logging.Nop()), WithMetrics(shared))
	require.NoError(t, err)
	t.Cleanup(b.Close)

	_, err = b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)
	_, err = b.Enqueue([]Packet{{SequenceNumber: 3, Elements: 480, Data: fill(0x03, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	require.Equal(t, shared.Snapshot(), b.Metrics())
	require.Equal(t, uint64(480), shared.Snapshot().ConcealedFrames)
}

func TestWithClockDrivesTimestampsAndExpiry(t *testing.T) {
	clock := jittertest.NewClock(time.Unix(2_000_000_000, 0))
	b, err := New(4, 480, 48000, 100, 0, WithLogger(logging.Nop()), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(b.Close)

	_, err = b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	clock.Advance(100 * time.Millisecond)

	_, err = b.Enqueue([]Packet{{SequenceNumber: 2, Elements: 480, Data: fill(0x02, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	dest := make([]byte, 480*4)
	n, err := b.Dequeue(dest, 480)
	require.NoError(t, err)
	require.Equal(t, 480, n)
	require.Equal(t, fill(0x02, 480*4), dest)
	require.Equal(t, uint64(480), b.Metrics().SkippedFrames)
}

// stubComparator treats every sequence number as forward-only in plain
// numeric order, never wrapping — the kind of substitution
// WithSequenceComparator exists for when a transport already guarantees a
// bounded, monotonic sequence space.
type stubComparator struct{}

func (stubComparator) LessOrEqual(a, b uint32) bool { return a <= b }
func (stubComparator) Distance(a, b uint32) int64   { return int64(b) - int64(a) }

func TestWithSequenceComparatorOverridesOrdering(t *testing.T) {
	b, err := New(4, 480, 48000, 100, 0, WithLogger(logging.Nop()), WithSequenceComparator(stubComparator{}))
	require.NoError(t, err)
	t.Cleanup(b.Close)
	require.IsType(t, stubComparator{}, b.seqCmp)

	// Sequence numbers at the RFC 1982 half-space point: high+2 is a
	// forward gap of one missing packet after high, so gap detection runs
	// through the installed stubComparator.
	high := uint32(1) << 31
	_, err = b.Enqueue([]Packet{{SequenceNumber: high, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	var seen []uint32
	_, err = b.Enqueue([]Packet{{SequenceNumber: high + 2, Elements: 480, Data: fill(0x02, 480*4)}}, func(packets []ConcealmentPacket) {
		for _, p := range packets {
			seen = append(seen, p.SequenceNumber)
			for i := range p.Data {
				p.Data[i] = 0
			}
		}
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{high + 1}, seen)
}

// --- min-fill idempotence: a stabilized buffer doesn't over-conceal on an empty Enqueue ---

func TestMinFillIdempotence(t *testing.T) {
	b, err := New(4, 480, 48000, 100, 50, WithLogger(logging.Nop()))
	require.NoError(t, err)
	t.Cleanup(b.Close)

	// Simulate a buffer already past the play-gate but under-filled, so the
	// first Enqueue's min-fill top-up actually synthesizes concealment.
	b.play.Store(true)

	_, err = b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)
	filledAfterFirst := b.Metrics().FilledPackets
	require.Equal(t, uint64(4*480), filledAfterFirst)
	require.Equal(t, uint64(50), b.currentDepthMS())

	_, err = b.Enqueue(nil, zeroCallback)
	require.NoError(t, err)
	require.Equal(t, filledAfterFirst, b.Metrics().FilledPackets, "min-fill must not re-conceal once stabilized at min length")
}

// --- PeekPacketOffset: read-only diagnostic lookup, ported from the
// original's GetReadPointerAtPacketOffset (used by its BufferInspector
// test harness) ---

func TestPeekPacketOffsetReturnsPacketsInOrderWithoutConsuming(t *testing.T) {
	b, _ := newTestBuffer(t)

	p0 := fill(0x01, 480*4)
	p1 := fill(0x02, 480*4)
	_, err := b.Enqueue([]Packet{
		{SequenceNumber: 1, Elements: 480, Data: p0},
		{SequenceNumber: 2, Elements: 480, Data: p1},
	}, zeroCallback)
	require.NoError(t, err)

	before := b.cursors.Written()

	got0, err := b.PeekPacketOffset(0)
	require.NoError(t, err)
	require.Equal(t, p0, got0)

	got1, err := b.PeekPacketOffset(1)
	require.NoError(t, err)
	require.Equal(t, p1, got1)

	require.Equal(t, before, b.cursors.Written(), "peeking must not advance the read cursor")

	dest := make([]byte, 480*4)
	n, err := b.Dequeue(dest, 480)
	require.NoError(t, err)
	require.Equal(t, 480, n)
	require.Equal(t, p0, dest, "peeking must not disturb what Dequeue later returns")
}

func TestPeekPacketOffsetSeesConcealmentPayload(t *testing.T) {
	b, _ := newTestBuffer(t)

	_, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	var concealed [][]byte
	_, err = b.Enqueue([]Packet{{SequenceNumber: 3, Elements: 480, Data: fill(0x03, 480*4)}}, func(packets []ConcealmentPacket) {
		for _, p := range packets {
			for i := range p.Data {
				p.Data[i] = byte(p.SequenceNumber)
			}
			concealed = append(concealed, append([]byte(nil), p.Data...))
		}
	})
	require.NoError(t, err)
	require.Len(t, concealed, 1)

	got, err := b.PeekPacketOffset(1)
	require.NoError(t, err)
	require.Equal(t, concealed[0], got)
}

func TestPeekPacketOffsetRejectsNegativeOffset(t *testing.T) {
	b, _ := newTestBuffer(t)
	_, err := b.PeekPacketOffset(-1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPeekPacketOffsetRejectsOffsetBeyondBufferedPackets(t *testing.T) {
	b, _ := newTestBuffer(t)

	_, err := b.Enqueue([]Packet{{SequenceNumber: 1, Elements: 480, Data: fill(0x01, 480*4)}}, zeroCallback)
	require.NoError(t, err)

	_, err = b.PeekPacketOffset(1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPeekPacketOffsetOnEmptyBufferIsRejected(t *testing.T) {
	b, _ := newTestBuffer(t)
	_, err := b.PeekPacketOffset(0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
