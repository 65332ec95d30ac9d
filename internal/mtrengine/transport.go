package mtrengine

import (
	"context"
	"net"
)

// ProbeIdentity is the (packet_id, sequence) pair that names one in-flight
// probe.
type ProbeIdentity struct {
	PacketID uint16
	Sequence uint16
}

// SendResult is returned by Transport.Send: the monotonic timestamp taken
// around the send syscall, for use as the probe's send_time.
type SendResult struct {
	SendTime int64 // nanoseconds, mtrengine.Now() domain
}

// Datagram is one received packet, as handed back by RecvOne.
type Datagram struct {
	Payload  []byte
	Source   net.IP
	RecvTime int64 // nanoseconds, mtrengine.Now() domain
}

// Transport is the unified send/receive surface behind the Raw and Sim
// backends. Send sets the outgoing TTL itself; RecvReady
// blocks until at least one datagram is available or the transport closes;
// RecvOne never blocks.
type Transport interface {
	// Send transmits an Echo Request for the given identity at the given
	// TTL and returns the monotonic timestamp taken immediately around the
	// send syscall.
	Send(ctx context.Context, target net.IP, ttl int, id ProbeIdentity) (SendResult, error)

	// RecvReady blocks until a datagram is available, the transport is
	// closed, or ctx is cancelled. It must never be implemented via a
	// polling sleep.
	RecvReady(ctx context.Context) error

	// RecvOne performs one non-blocking dequeue. ok is false when nothing
	// is currently available (WouldBlock-equivalent).
	RecvOne() (Datagram, bool, error)

	// Close releases the transport's sockets. Idempotent.
	Close() error
}
