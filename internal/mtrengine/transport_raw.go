package mtrengine

import (
	"context"
	"net"
	"sync"
)

// readinessWaiter is the OS-level notification primitive backing
// RawTransport.RecvReady: epoll on Linux, kqueue on the BSD family. It must
// block until data is ready or Close/ctx cancellation wakes it — never a
// polling sleep.
type readinessWaiter interface {
	Wait(ctx context.Context) error
	Close() error
}

// RawTransport is the Transport implementation backing the Raw
// backend: two non-blocking raw ICMP sockets (send, receive), TTL set per
// call, and an OS readiness primitive driving the receive path.
type RawTransport struct {
	packetID uint16

	sendFD int
	recvFD int
	waiter readinessWaiter

	mu     sync.Mutex
	buf    [1500]byte
	closed bool
}

// newRawTransport opens the send/receive socket pair and the platform
// readiness waiter. Returns ErrPrivilegeDenied (wrapped) if raw socket
// creation is rejected by the OS. Exposed as NewRawTransport per platform
// file (transport_raw_unix.go, transport_raw_windows.go).
func newRawTransport(packetID uint16) (*RawTransport, error) {
	sendFD, err := openRawSocket()
	if err != nil {
		return nil, err
	}
	recvFD, err := openRawSocket()
	if err != nil {
		closeFD(sendFD)
		return nil, err
	}

	waiter, err := newReadinessWaiter(recvFD)
	if err != nil {
		closeFD(sendFD)
		closeFD(recvFD)
		return nil, err
	}

	return &RawTransport{
		packetID: packetID,
		sendFD:   sendFD,
		recvFD:   recvFD,
		waiter:   waiter,
	}, nil
}

// Send sets the outgoing TTL for this call, marshals the Echo Request, and
// transmits it. The returned SendTime is taken immediately around the
// syscall, never before marshal/TTL setup.
func (t *RawTransport) Send(ctx context.Context, target net.IP, ttl int, id ProbeIdentity) (SendResult, error) {
	if ttl < 1 || ttl > 255 {
		return SendResult{}, ErrInvalidTTL
	}

	payload, err := buildEchoRequest(id.PacketID, id.Sequence)
	if err != nil {
		return SendResult{}, err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return SendResult{}, ErrSocketClosed
	}

	if err := setSendTTL(t.sendFD, ttl); err != nil {
		return SendResult{}, err
	}

	t0 := Now()
	err = sendEcho(t.sendFD, target, payload)
	return SendResult{SendTime: t0}, err
}

// RecvReady blocks on the platform readiness primitive.
func (t *RawTransport) RecvReady(ctx context.Context) error {
	return t.waiter.Wait(ctx)
}

// RecvOne performs one non-blocking recv. ok is false on WouldBlock.
func (t *RawTransport) RecvOne() (Datagram, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Datagram{}, false, ErrSocketClosed
	}

	n, src, wouldBlock, err := recvOnce(t.recvFD, t.buf[:])
	if wouldBlock {
		return Datagram{}, false, nil
	}
	if err != nil {
		return Datagram{}, false, err
	}

	payload := make([]byte, n)
	copy(payload, t.buf[:n])
	return Datagram{Payload: payload, Source: src, RecvTime: Now()}, true, nil
}

// Close releases both sockets and the readiness waiter. Idempotent.
func (t *RawTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	waitErr := t.waiter.Close()
	closeFD(t.sendFD)
	closeFD(t.recvFD)
	return waitErr
}
