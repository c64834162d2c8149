package jitter

import "errors"

// Sentinel errors returned by Buffer methods, wrapped with fmt.Errorf at
// each call site to carry the offending values (mirrors slimcap's
// capture.ErrCaptureStopped pattern: a bare sentinel for errors.Is, plus a
// %w-wrapped message for humans).
var (
	// ErrInvalidArgument is returned for construction parameters, packet
	// shapes, or destination buffers that violate a documented precondition.
	ErrInvalidArgument = errors.New("jitter: invalid argument")

	// ErrVirtualMemory is returned when the double-mapped ring cannot be
	// allocated at construction time.
	ErrVirtualMemory = errors.New("jitter: virtual memory mapping failed")
)
