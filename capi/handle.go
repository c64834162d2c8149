// Package capi is a cgo-free stand-in for the C-style handle/extern
// interface described by original_source/include/libjitter.h's
// JitterInit/JitterEnqueue/JitterDequeue/JitterDestroy. It exposes
// jitter.Buffer through opaque
// uintptr handles instead of cgo, since nothing else in this module's
// dependency stack talks to C (slimcap's own kernel interaction goes
// through golang.org/x/sys/unix syscalls, never cgo).
package capi

import (
	"sync"
	"sync/atomic"

	"github.com/aminya/libjitter/internal/logging"
	"github.com/aminya/libjitter/jitter"
)

var (
	handlesMu sync.RWMutex
	handles   = map[uintptr]*jitter.Buffer{}
	nextID    atomic.Uintptr
)

// Init mirrors JitterInit: constructs a Buffer and returns an opaque handle
// for use with Enqueue/Prepare/Dequeue/CurrentDepth/Destroy. A zero return
// value indicates construction failed; callers can recover the error via
// jitter.New directly if they need more than a boolean signal, matching
// the C ABI's "null on failure" contract while staying idiomatic on the
// Go side.
func Init(elementSize, packetElements int, clockRateHz uint32, maxLengthMS, minLengthMS uint64) uintptr {
	buf, err := jitter.New(elementSize, packetElements, clockRateHz, maxLengthMS, minLengthMS, jitter.WithLogger(logging.NewSlog()))
	if err != nil {
		return 0
	}

	id := nextID.Add(1)
	handlesMu.Lock()
	handles[id] = buf
	handlesMu.Unlock()
	return id
}

func lookup(handle uintptr) *jitter.Buffer {
	handlesMu.RLock()
	defer handlesMu.RUnlock()
	return handles[handle]
}

// Enqueue mirrors JitterEnqueue. It returns 0 for an unknown handle.
func Enqueue(handle uintptr, packets []jitter.Packet, cb jitter.ConcealmentCallback) int {
	buf := lookup(handle)
	if buf == nil {
		return 0
	}
	n, err := buf.Enqueue(packets, cb)
	if err != nil {
		return 0
	}
	return n
}

// Prepare mirrors the Prepare half of the library API.
func Prepare(handle uintptr, sequenceNumber uint32, cb jitter.ConcealmentCallback) int {
	buf := lookup(handle)
	if buf == nil {
		return 0
	}
	return buf.Prepare(sequenceNumber, cb)
}

// Dequeue mirrors JitterDequeue. It returns 0 for an unknown handle.
func Dequeue(handle uintptr, destination []byte, elements int) int {
	buf := lookup(handle)
	if buf == nil {
		return 0
	}
	n, err := buf.Dequeue(destination, elements)
	if err != nil {
		return 0
	}
	return n
}

// CurrentDepth mirrors the GetCurrentDepth half of the library API.
func CurrentDepth(handle uintptr) int64 {
	buf := lookup(handle)
	if buf == nil {
		return 0
	}
	return buf.CurrentDepth().Milliseconds()
}

// Destroy mirrors JitterDestroy: releases the buffer's virtual memory and
// forgets the handle. Destroying an unknown or already-destroyed handle is
// a no-op.
func Destroy(handle uintptr) {
	handlesMu.Lock()
	buf, ok := handles[handle]
	if ok {
		delete(handles, handle)
	}
	handlesMu.Unlock()

	if ok {
		buf.Close()
	}
}
