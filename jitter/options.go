package jitter

import (
	"time"

	"github.com/aminya/libjitter/internal/logging"
	"github.com/aminya/libjitter/internal/metrics"
)

// config holds construction-time settings that fall outside the required
// positional arguments of New (element size, packet shape, clock rate, and
// the length bounds are all part of the wire-compatible §6.1 signature and
// stay positional; everything else is optional).
type config struct {
	metrics *metrics.Counters
	logger  logging.Logger
	now     func() time.Time
	seqCmp  SequenceComparator
}

// Option customizes Buffer construction. Grounded on slimcap's
// capture.Option[T] functional-options pattern
// (_examples/fako1024-slimcap/capture/options.go), simplified to a single
// non-generic target type since Buffer, unlike slimcap's
// GenericOptions/RingBufOptions split, has only one options struct to
// configure.
type Option func(*config)

// WithMetrics injects a pre-existing counters block, letting a caller share
// one Metrics snapshot across multiple buffers or reset counters between
// test cases.
func WithMetrics(m *metrics.Counters) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithLogger installs the Logger the buffer reports drops, expiry, and
// deferred-walk failures through. Defaults to logging.Nop() when omitted,
// matching slimcap's own defaulting of an unset logger to a no-op rather
// than panicking or writing to stderr by surprise.
func WithLogger(logger logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock overrides the wall-clock source Enqueue/Prepare/Dequeue read
// for header timestamps and expiry checks. Defaults to
// time.Now; tests substitute a jittertest.Clock (or any func() time.Time)
// to advance time deterministically instead of sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithSequenceComparator overrides the ordering used to compare and
// measure the distance between sequence numbers. Defaults to RFC 1982
// serial arithmetic (see sequence.go); a caller with its own rollover
// guarantees can substitute a simpler comparator.
func WithSequenceComparator(cmp SequenceComparator) Option {
	return func(c *config) {
		c.seqCmp = cmp
	}
}
