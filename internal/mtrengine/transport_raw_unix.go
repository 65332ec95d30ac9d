//go:build !windows

package mtrengine

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// NewRawTransport opens the send/receive socket pair and the platform
// readiness waiter (epoll on Linux, kqueue on the BSD family).
func NewRawTransport(packetID uint16) (*RawTransport, error) {
	return newRawTransport(packetID)
}

// openRawSocket opens a non-blocking IPv4 raw ICMP socket, per
// neo-hu-network-probe-tool/pkg/icmp/helper.go's Listen.
func openRawSocket() (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_ICMP)
	if err != nil {
		return 0, ErrPrivilegeDenied
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return 0, err
	}
	return fd, nil
}

func closeFD(fd int) {
	syscall.Close(fd)
}

// setSendTTL sets IP_TTL on the send socket for the next outgoing datagram.
func setSendTTL(fd, ttl int) error {
	return syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TTL, ttl)
}

// sendEcho transmits a marshaled ICMP payload to target.
func sendEcho(fd int, target net.IP, payload []byte) error {
	v4 := target.To4()
	if v4 == nil {
		return fmt.Errorf("mtrengine: raw transport supports IPv4 targets only, got %s", target)
	}
	addr := syscall.SockaddrInet4{}
	copy(addr.Addr[:], v4)
	return syscall.Sendto(fd, payload, 0, &addr)
}

// recvOnce performs one non-blocking recv and strips the kernel-prepended
// IPv4 header that raw ICMP sockets deliver alongside the ICMP payload, per
// neo-hu-network-probe-tool/pkg/icmp/helper.go's StripIPv4Header.
func recvOnce(fd int, buf []byte) (n int, src net.IP, wouldBlock bool, err error) {
	raw, from, rerr := syscall.Recvfrom(fd, buf, 0)
	if rerr != nil {
		if rerr == syscall.EAGAIN || rerr == syscall.EWOULDBLOCK {
			return 0, nil, true, nil
		}
		return 0, nil, false, rerr
	}

	if sa, ok := from.(*syscall.SockaddrInet4); ok {
		src = net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3])
	}

	ip, hdrLen := stripIPv4Header(buf[:raw])
	if ip != nil && src == nil {
		src = ip
	}
	if hdrLen > 0 {
		copy(buf, buf[hdrLen:raw])
		return raw - hdrLen, src, false, nil
	}
	return raw, src, false, nil
}

// stripIPv4Header recognizes a leading IPv4 header (as raw ICMP sockets
// prepend on Linux and the BSDs) and returns the source address and header
// length, or (nil, 0) if the buffer doesn't start with one.
func stripIPv4Header(b []byte) (net.IP, int) {
	if len(b) < 20 || b[0]>>4 != 4 {
		return nil, 0
	}
	hdrLen := int(b[0]&0x0f) << 2
	if hdrLen < 20 || len(b) < hdrLen {
		return nil, 0
	}
	return net.IPv4(b[12], b[13], b[14], b[15]), hdrLen
}
