//go:build windows

package mtrengine

import (
	"context"
	"net"
)

// NewRawTransport on Windows always fails: a readiness-driven raw ICMP
// socket needs a packet-capture SDK (WinPcap/Npcap) that is out of scope
// here. Callers should fall back to --simulate.
func NewRawTransport(packetID uint16) (*RawTransport, error) {
	return nil, ErrPrivilegeDenied
}

func openRawSocket() (int, error) {
	return 0, ErrPrivilegeDenied
}

func closeFD(fd int) {}

func setSendTTL(fd, ttl int) error {
	return ErrPrivilegeDenied
}

func sendEcho(fd int, target net.IP, payload []byte) error {
	return ErrPrivilegeDenied
}

func recvOnce(fd int, buf []byte) (n int, src net.IP, wouldBlock bool, err error) {
	return 0, nil, false, ErrPrivilegeDenied
}

type noopWaiter struct{}

func (noopWaiter) Wait(ctx context.Context) error { return ErrPrivilegeDenied }
func (noopWaiter) Close() error                   { return nil }

func newReadinessWaiter(recvFD int) (readinessWaiter, error) {
	return noopWaiter{}, ErrPrivilegeDenied
}
