package jitter

// Packet is the producer-facing input record. Elements is checked against
// the buffer's configured PacketElements at Enqueue time; Data must hold
// at least Elements*ElementSize bytes.
type Packet struct {
	SequenceNumber uint32
	Elements       int
	Data           []byte
}

// ConcealmentPacket is one placeholder slot handed to a ConcealmentCallback.
// Data is a window directly inside ring memory, exactly
// PacketElements*ElementSize bytes long.
type ConcealmentPacket struct {
	SequenceNumber uint32
	Data           []byte
}

// ConcealmentCallback fills every slot's Data in place before returning.
// It must not retain a Data slice past return, and must not call back into
// the Buffer that invoked it.
type ConcealmentCallback func(packets []ConcealmentPacket)
