//go:build linux

package mtrengine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// epollWaiter is the Linux readiness primitive: epoll_wait blocking
// indefinitely on the receive socket, woken early by a self-pipe when the
// caller's context is cancelled or the transport is closed.
type epollWaiter struct {
	epfd int

	wakeR int
	wakeW int

	closed atomic.Bool

	mu sync.Mutex
}

func newReadinessWaiter(recvFD int) (readinessWaiter, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, err
	}

	w := &epollWaiter{epfd: epfd, wakeR: fds[0], wakeW: fds[1]}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, recvFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(recvFD),
	}); err != nil {
		w.Close()
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, w.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(w.wakeR),
	}); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// Wait blocks until the receive socket is readable, ctx is cancelled, or
// Close is called. It never sleeps on a fixed interval: epoll_wait here is
// called with timeout -1 (block indefinitely).
func (w *epollWaiter) Wait(ctx context.Context) error {
	if w.closed.Load() {
		return ErrSocketClosed
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.wake()
		case <-done:
		}
	}()
	defer close(done)

	events := make([]unix.EpollEvent, 4)
	for {
		n, err := unix.EpollWait(w.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			if int(events[i].Fd) == w.wakeR {
				w.drainWake()
				if w.closed.Load() {
					return ErrSocketClosed
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			return nil
		}
	}
}

func (w *epollWaiter) wake() {
	var b [1]byte
	unix.Write(w.wakeW, b[:])
}

func (w *epollWaiter) drainWake() {
	var b [8]byte
	for {
		n, err := unix.Read(w.wakeR, b[:])
		if err != nil || n == 0 {
			return
		}
	}
}

func (w *epollWaiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Swap(true) {
		return nil
	}
	w.wake()
	unix.Close(w.wakeR)
	unix.Close(w.wakeW)
	return unix.Close(w.epfd)
}
