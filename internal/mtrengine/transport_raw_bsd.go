//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package mtrengine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// kqueueWaiter is the BSD-family readiness primitive: kevent blocking
// indefinitely on the receive socket, woken early by a self-pipe when the
// caller's context is cancelled or the transport is closed.
type kqueueWaiter struct {
	kq int

	wakeR int
	wakeW int

	closed atomic.Bool

	mu sync.Mutex
}

func newReadinessWaiter(recvFD int) (readinessWaiter, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK); err != nil {
		unix.Close(kq)
		return nil, err
	}

	w := &kqueueWaiter{kq: kq, wakeR: fds[0], wakeW: fds[1]}

	changes := []unix.Kevent_t{
		{Ident: uint64(recvFD), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD},
		{Ident: uint64(w.wakeR), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD},
	}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// Wait blocks until the receive socket is readable, ctx is cancelled, or
// Close is called. kevent is called with a nil timeout (block indefinitely).
func (w *kqueueWaiter) Wait(ctx context.Context) error {
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

	events := make([]unix.Kevent_t, 4)
	for {
		n, err := unix.Kevent(w.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		for i := 0; i < n; i++ {
			if int(events[i].Ident) == w.wakeR {
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

func (w *kqueueWaiter) wake() {
	var b [1]byte
	unix.Write(w.wakeW, b[:])
}

func (w *kqueueWaiter) drainWake() {
	var b [8]byte
	for {
		n, err := unix.Read(w.wakeR, b[:])
		if err != nil || n == 0 {
			return
		}
	}
}

func (w *kqueueWaiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Swap(true) {
		return nil
	}
	w.wake()
	unix.Close(w.wakeR)
	unix.Close(w.wakeW)
	return unix.Close(w.kq)
}
