//go:build linux
// +build linux

// Package ring implements the VirtualRing and RingCursors components: a
// page-size-multiple byte region mapped twice in adjacent virtual address
// ranges (so every offset in [0, L) has a second, aliased view at
// [L, 2L)), plus the read/write cursor and occupancy bookkeeping used to
// walk it.
//
// The double mapping is the direct analogue of MakeVirtualMemory in the
// original libjitter C++ core (memfd_create + two adjacent mmap calls on
// Linux). The mmap/unix idiom itself is grounded on slimcap's use of
// golang.org/x/sys/unix to map the AF_PACKET kernel ring
// (capture/afpacket/afring/afring.go, capture/afpacket/afpacket.go); the
// raw SYS_MMAP syscall use below mirrors slimcap's own direct syscall
// invocation for operations the unix package's high-level wrapper doesn't
// expose (event/poll_default.go's SYS_PPOLL call), since unix.Mmap has no
// way to request a caller-chosen fixed address.
package ring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ring is a double-mapped byte region of logical length L. Any slice
// obtained via At for an offset/length combination that fits within
// [0, 2L) behaves as if the region were physically contiguous, even when
// off+n crosses the L boundary.
type Ring struct {
	mem []byte // length 2*L, alias mapping
	l   int    // logical capacity L (page-aligned)
	fd  int
}

// New allocates a double-mapped ring of at least length bytes, rounded up
// to the system page size. Allocation, truncation, or mapping failure is
// fatal to construction; no partial ring is returned.
func New(length int) (*Ring, error) {
	if length <= 0 {
		return nil, fmt.Errorf("ring: length must be > 0, got %d", length)
	}

	pageSize := unix.Getpagesize()
	l := pageSizeAlign(length, pageSize)

	fd, err := unix.MemfdCreate("libjitter-ring", 0)
	if err != nil {
		return nil, fmt.Errorf("ring: memfd_create failed: %w", err)
	}
	cleanupFd := func() { _ = unix.Close(fd) }

	if err := unix.Ftruncate(fd, int64(l)); err != nil {
		cleanupFd()
		return nil, fmt.Errorf("ring: ftruncate to %d failed: %w", l, err)
	}

	// Reserve 2*l of address space so both halves land adjacently, then
	// carve the two real mappings into it with MAP_FIXED. This mirrors
	// the mmap(PROT_NONE) + two MAP_FIXED mmaps sequence used by
	// MakeVirtualMemory's Linux branch in the original C++ core.
	reservation, err := unix.Mmap(-1, 0, 2*l, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		cleanupFd()
		return nil, fmt.Errorf("ring: reservation mmap failed: %w", err)
	}
	base := uintptr(unsafe.Pointer(&reservation[0])) // #nosec G103

	if err := mmapFixed(fd, base, l); err != nil {
		_ = unix.Munmap(reservation)
		cleanupFd()
		return nil, fmt.Errorf("ring: primary mmap failed: %w", err)
	}
	if err := mmapFixed(fd, base+uintptr(l), l); err != nil {
		_ = unix.Munmap(reservation)
		cleanupFd()
		return nil, fmt.Errorf("ring: alias mmap failed: %w", err)
	}

	return &Ring{mem: reservation, l: l, fd: fd}, nil
}

// mmapFixed maps length bytes of fd at the exact virtual address addr,
// verifying the kernel honored the request so callers never end up with a
// silently mislocated alias.
func mmapFixed(fd int, addr uintptr, length int) error {
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		uintptr(unix.PROT_READ|unix.PROT_WRITE), uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd), 0)
	if errno != 0 {
		return errno
	}
	if ret != addr {
		return fmt.Errorf("mmap did not honor fixed address (want %#x, got %#x)", addr, ret)
	}
	return nil
}

// Close tears down both mappings and the backing file descriptor. Unmap
// failures are non-fatal (spec: VM release failure logs, doesn't panic);
// callers should log the returned error rather than treat it as fatal.
func (r *Ring) Close() error {
	var firstErr error
	if err := unix.Munmap(r.mem); err != nil {
		firstErr = fmt.Errorf("ring: munmap failed: %w", err)
	}
	if err := unix.Close(r.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("ring: close backing fd failed: %w", err)
	}
	return firstErr
}

// Len returns the logical capacity L (post page-rounding) of the ring.
func (r *Ring) Len() int { return r.l }

// At returns a slice view of n bytes starting at offset off. The caller
// must ensure off+n <= 2L (the buffer itself always passes off < L and
// n <= L); the returned slice may straddle
// the physical wrap boundary transparently thanks to the double mapping.
func (r *Ring) At(off, n int) []byte {
	return r.mem[off : off+n]
}

func pageSizeAlign(length, pageSize int) int {
	if length%pageSize == 0 {
		return length
	}
	return length + pageSize - (length % pageSize)
}
