package mtrengine

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu   sync.Mutex
	snaps []Snapshot
}

func (r *recordingObserver) OnSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestSessionRunsConfiguredRoundsThenStops(t *testing.T) {
	transport := NewSimTransport(SimConfig{Seed: 7, DestinationTTL: 3})

	sess, err := NewSession(context.Background(), SessionConfig{
		Target:   "203.0.113.9",
		Count:    2,
		Interval: 20 * time.Millisecond,
		MaxHops:  3,
		PacketID: 0x4242,
		Resolve: func(ctx context.Context, target string) (net.IP, error) {
			return net.ParseIP(target), nil
		},
	}, transport)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	obs := &recordingObserver{}
	sess.Subscribe(obs)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop within timeout")
	}

	if sess.State() != StateStopped {
		t.Fatalf("State = %v, want Stopped", sess.State())
	}
	if obs.count() == 0 {
		t.Fatal("observer received no snapshots")
	}
}

func TestSessionStopIsRespected(t *testing.T) {
	transport := NewSimTransport(SimConfig{Seed: 3, DestinationTTL: 30})

	sess, err := NewSession(context.Background(), SessionConfig{
		Target:   "203.0.113.9",
		Interval: 10 * time.Millisecond,
		MaxHops:  30,
		PacketID: 0x1,
		Resolve: func(ctx context.Context, target string) (net.IP, error) {
			return net.ParseIP(target), nil
		},
	}, transport)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	sess.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after Stop()")
	}

	if sess.State() != StateStopped {
		t.Fatalf("State = %v, want Stopped", sess.State())
	}
}

func TestNewSessionUnresolvableTarget(t *testing.T) {
	transport := NewSimTransport(SimConfig{Seed: 1})
	_, err := NewSession(context.Background(), SessionConfig{
		Target:   "not-a-real-host.invalid",
		Interval: time.Second,
		Resolve: func(ctx context.Context, target string) (net.IP, error) {
			return nil, ErrUnresolvable
		},
	}, transport)
	if err != ErrUnresolvable {
		t.Fatalf("err = %v, want ErrUnresolvable", err)
	}
}
