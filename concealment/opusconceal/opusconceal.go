// Package opusconceal is a reference jitter.ConcealmentCallback backed by
// github.com/pion/opus's packet-loss concealment mode, grounded on
// opd-ai-toxcore/av/audio's Processor (opus.NewDecoder + Decoder.Decode
// into a preallocated PCM buffer, converted from bytes to little-endian
// int16 samples).
package opusconceal

import (
	"fmt"

	"github.com/pion/opus"

	"github.com/aminya/libjitter/jitter"
)

// bytesPerSample is fixed at 16-bit PCM, matching Processor's []int16
// output convention.
const bytesPerSample = 2

// Concealer synthesizes placeholder audio by asking the Opus decoder for
// packet-loss concealment output instead of decoding a received frame.
// It is stateful (the decoder tracks pitch/energy across calls to produce
// a plausible fade rather than silence) so a Concealer must only ever
// back one Buffer, exactly as one Processor backs one call leg.
type Concealer struct {
	decoder opus.Decoder
	scratch []byte
}

// NewConcealer builds a Concealer. elementSize must equal bytesPerSample
// (16-bit PCM); Buffer configurations using another sample width need a
// different concealment source.
func NewConcealer(elementSize int) (*Concealer, error) {
	if elementSize != bytesPerSample {
		return nil, fmt.Errorf("opusconceal: element size must be %d (16-bit PCM), got %d", bytesPerSample, elementSize)
	}
	return &Concealer{decoder: opus.NewDecoder()}, nil
}

// Callback returns a jitter.ConcealmentCallback bound to this Concealer's
// decoder state. The returned callback fills every packet's Data in
// place before returning, so the consumer never observes a
// partially-concealed slot.
func (c *Concealer) Callback() jitter.ConcealmentCallback {
	return c.fill
}

func (c *Concealer) fill(packets []jitter.ConcealmentPacket) {
	for _, p := range packets {
		samples := len(p.Data) / bytesPerSample
		needed := samples * bytesPerSample
		if cap(c.scratch) < needed {
			c.scratch = make([]byte, needed)
		}
		out := c.scratch[:needed]

		// Passing a zero-length input packet is pion/opus's signal to run
		// packet-loss concealment instead of a real decode.
		if _, _, err := c.decoder.Decode(nil, out); err != nil {
			zero(p.Data)
			continue
		}

		copy(p.Data, out)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
