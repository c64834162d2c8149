// Package rtpsource adapts github.com/pion/rtp packets into jitter.Packet
// records, grounded on opd-ai-toxcore/av/rtp's AudioPacketizer/
// AudioDepacketizer pair (RTP sequence/timestamp bookkeeping around a
// pion/rtp packet, feeding a jitter buffer). It does not depend on
// package jitter for anything but the Packet type, so it can sit in front
// of a Buffer without either package importing the other's internals.
package rtpsource

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"

	"github.com/aminya/libjitter/internal/logging"
	"github.com/aminya/libjitter/jitter"
)

// rtpPayloadType is the dynamic payload type used for Opus per RFC 7587,
// matching RTP's conventional dynamic-payload-type default of 96.
const rtpPayloadType = 96

// Packetizer wraps encoded audio frames into RTP packets, mirroring
// AudioPacketizer's field set (ssrc, sequenceNumber, timestamp, clockRate)
// without the Tox transport dependency: Packetize returns marshaled bytes
// for the caller to send however it likes.
type Packetizer struct {
	ssrc           uint32
	sequenceNumber uint16
	timestamp      uint32
	clockRateHz    uint32
}

// NewPacketizer builds a Packetizer with a random SSRC, matching
// AudioPacketizer's crypto/rand SSRC generation.
func NewPacketizer(clockRateHz uint32) (*Packetizer, error) {
	if clockRateHz == 0 {
		return nil, fmt.Errorf("rtpsource: clock rate cannot be zero")
	}
	var ssrcBytes [4]byte
	if _, err := rand.Read(ssrcBytes[:]); err != nil {
		return nil, fmt.Errorf("rtpsource: generating ssrc: %w", err)
	}
	return &Packetizer{
		ssrc:        binary.BigEndian.Uint32(ssrcBytes[:]),
		clockRateHz: clockRateHz,
	}, nil
}

// Packetize wraps payload (elements samples' worth of encoded audio) in an
// RTP packet, then advances the packetizer's sequence number by one and its
// timestamp by elements, matching AudioPacketizer.PacketizeAndSend's post-send
// bookkeeping.
func (p *Packetizer) Packetize(payload []byte, elements int) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("rtpsource: payload cannot be empty")
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadType,
			SequenceNumber: p.sequenceNumber,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	out, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtpsource: marshaling rtp packet: %w", err)
	}
	p.sequenceNumber++
	p.timestamp += uint32(elements)
	return out, nil
}

// Depacketizer turns received RTP packets into jitter.Packet records. The
// buffer's sequence-number domain is uint32, following RFC 1982 serial
// arithmetic, while RTP carries a 16-bit sequence number that wraps every
// 65536 packets, so Depacketizer extends it by counting wraps the way
// AudioDepacketizer tracks lastSeq/hasLastSeq, but widening instead of
// merely comparing.
type Depacketizer struct {
	elementSize int

	expectedSSRC uint32
	haveSSRC     bool

	haveLastSeq bool
	lastSeq16   uint16
	epoch       uint32

	logger logging.Logger
}

// NewDepacketizer builds a Depacketizer that produces jitter.Packet.Data
// windows sized in multiples of elementSize (bytes per sample/element).
func NewDepacketizer(elementSize int, logger logging.Logger) (*Depacketizer, error) {
	if elementSize <= 0 {
		return nil, fmt.Errorf("rtpsource: elementSize must be positive, got %d", elementSize)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Depacketizer{elementSize: elementSize, logger: logger}, nil
}

// Depacketize unmarshals raw RTP bytes and returns the equivalent
// jitter.Packet, extending the wire sequence number into the buffer's
// wider domain. It accepts the first SSRC it observes, exactly as
// AudioDepacketizer.ProcessPacket does, and rejects any other SSRC as a
// foreign stream rather than silently mixing sources.
func (d *Depacketizer) Depacketize(rtpData []byte) (jitter.Packet, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(rtpData); err != nil {
		return jitter.Packet{}, fmt.Errorf("rtpsource: unmarshaling rtp packet: %w", err)
	}

	if !d.haveSSRC {
		d.expectedSSRC = pkt.SSRC
		d.haveSSRC = true
	} else if pkt.SSRC != d.expectedSSRC {
		return jitter.Packet{}, fmt.Errorf("rtpsource: unexpected ssrc %d, stream is %d", pkt.SSRC, d.expectedSSRC)
	}

	if len(pkt.Payload)%d.elementSize != 0 {
		d.logger.Warn("rtpsource: payload of %d bytes is not a multiple of element size %d, truncating", len(pkt.Payload), d.elementSize)
	}
	elements := len(pkt.Payload) / d.elementSize

	seq := d.extend(pkt.SequenceNumber)

	return jitter.Packet{
		SequenceNumber: seq,
		Elements:       elements,
		Data:           pkt.Payload[:elements*d.elementSize],
	}, nil
}

// extend widens a 16-bit RTP sequence number into the uint32 domain
// jitter.Packet uses, incrementing an epoch counter every time the wire
// value wraps backward past a large forward distance from the last value
// seen, the same "far apart implies rollover" heuristic RFC 1982-style
// comparisons rely on.
func (d *Depacketizer) extend(seq16 uint16) uint32 {
	if !d.haveLastSeq {
		d.haveLastSeq = true
		d.lastSeq16 = seq16
		return uint32(seq16)
	}

	if seq16 < d.lastSeq16 && d.lastSeq16-seq16 > 1<<15 {
		d.epoch++
	} else if seq16 > d.lastSeq16 && seq16-d.lastSeq16 > 1<<15 {
		d.epoch--
	}
	d.lastSeq16 = seq16

	return d.epoch<<16 | uint32(seq16)
}
