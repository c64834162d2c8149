// Package frame implements the on-ring packet header record (PacketLayout
// in the design): a fixed-size record immediately preceding every packet
// payload in the ring, carrying enough metadata for the consumer to walk
// slot-by-slot and for the producer to locate and upgrade a previously
// written concealment slot in place.
//
// The layout is modeled on slimcap's tPacketHeaderV3 (raw byte parsing via
// fixed offsets, no reflection), with one addition: an atomically
// manipulated in_use word that lets the producer and consumer coordinate
// mutation of a single slot's header without a lock.
package frame

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Size is the fixed on-ring size, in bytes, of a Header record.
//
// Layout (little-endian):
//
//	 0- 3  SequenceNumber   uint32
//	 4- 7  Elements         uint32
//	 8-11  PreviousElements uint32
//	12-19  Timestamp        uint64 (ms since epoch)
//	  20   Concealment      byte (0 or 1)
//	21-23  reserved
//	24-27  inUse            uint32, manipulated only via sync/atomic
//
// Callers are expected to keep packet_elements * element_size a multiple
// of 4 bytes so that successive headers land 4-byte aligned within the
// ring; this mirrors the natural-alignment requirement the original
// libjitter design notes call out for its C in_use flag.
const Size = 28

const (
	offSequenceNumber   = 0
	offElements         = 4
	offPreviousElements = 8
	offTimestamp        = 12
	offConcealment      = 20
	offInUse            = 24
)

// Header is the decoded, heap-resident view of a Header record. It does not
// carry the in_use flag: that field only has meaning in place, on the ring,
// and is manipulated through TryAcquire/Release below.
type Header struct {
	SequenceNumber   uint32
	Elements         uint32
	PreviousElements uint32
	Timestamp        uint64
	Concealment      bool
}

// Encode writes h into dst[:Size].
func Encode(dst []byte, h Header) {
	_ = dst[Size-1]
	binary.LittleEndian.PutUint32(dst[offSequenceNumber:], h.SequenceNumber)
	binary.LittleEndian.PutUint32(dst[offElements:], h.Elements)
	binary.LittleEndian.PutUint32(dst[offPreviousElements:], h.PreviousElements)
	binary.LittleEndian.PutUint64(dst[offTimestamp:], h.Timestamp)
	if h.Concealment {
		dst[offConcealment] = 1
	} else {
		dst[offConcealment] = 0
	}
}

// Decode reads a Header out of src[:Size]. The in_use flag is intentionally
// omitted; use InUse/TryAcquire/Release to inspect or mutate it in place.
func Decode(src []byte) Header {
	_ = src[Size-1]
	return Header{
		SequenceNumber:   binary.LittleEndian.Uint32(src[offSequenceNumber:]),
		Elements:         binary.LittleEndian.Uint32(src[offElements:]),
		PreviousElements: binary.LittleEndian.Uint32(src[offPreviousElements:]),
		Timestamp:        binary.LittleEndian.Uint64(src[offTimestamp:]),
		Concealment:      src[offConcealment] != 0,
	}
}

// SetPreviousElements rewrites only the PreviousElements field in place,
// used to patch the next header's chain pointer after a partial read.
func SetPreviousElements(rec []byte, elements uint32) {
	_ = rec[Size-1]
	binary.LittleEndian.PutUint32(rec[offPreviousElements:], elements)
}

// SetConcealment rewrites the Concealment byte in place, used by the update
// walker once it has upgraded a slot's payload to real data.
func SetConcealment(rec []byte, concealment bool) {
	_ = rec[Size-1]
	if concealment {
		rec[offConcealment] = 1
	} else {
		rec[offConcealment] = 0
	}
}

func inUseWord(rec []byte) *uint32 {
	_ = rec[Size-1]
	// #nosec G103 -- rec is always Size-aligned, in-use word is Size-4:Size.
	return (*uint32)(unsafe.Pointer(&rec[offInUse]))
}

// TryAcquire attempts to set the in_use flag on the header record at rec,
// returning true if this caller now holds it. Acquire ordering: a
// successful TryAcquire synchronizes-with the Release that most recently
// cleared the flag.
func TryAcquire(rec []byte) bool {
	return atomic.CompareAndSwapUint32(inUseWord(rec), 0, 1)
}

// Release clears the in_use flag on the header record at rec.
func Release(rec []byte) {
	atomic.StoreUint32(inUseWord(rec), 0)
}

// InUse reports whether the in_use flag is currently held, without
// attempting to acquire it. Used only for diagnostics.
func InUse(rec []byte) bool {
	return atomic.LoadUint32(inUseWord(rec)) != 0
}
