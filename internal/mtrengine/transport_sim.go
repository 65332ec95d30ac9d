package mtrengine

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"
)

// SimConfig parameterizes the deterministic simulation backend.
type SimConfig struct {
	// Seed drives every random draw this transport makes. Two SimTransports
	// built with the same seed and driven with the same call sequence
	// produce identical schedules.
	Seed int64

	// DestinationTTL is the hop at which the simulated target replies with
	// EchoReply instead of TimeExceeded. TTLs at or beyond it are treated
	// as having reached the destination.
	DestinationTTL int

	// HopLoss overrides the default loss model for specific TTLs, keyed by
	// ttl, value in [0,1]. Used by tests to pin a hop's drop rate.
	HopLoss map[int]float64

	// Unreachable marks TTLs whose reply is a DestinationUnreachable rather
	// than the usual TimeExceeded/EchoReply, modeling a firewall or dead-end
	// router that answers the probe without forwarding it. Takes priority
	// over DestinationTTL at the same TTL.
	Unreachable map[int]bool
}

// SimTransport is the Transport implementation backing the Sim
// backend: no sockets, no privileges, individually-scheduled synthetic
// responses with per-hop latency and loss.
//
// Scheduling is delegated to Go's runtime timer wheel (time.AfterFunc)
// rather than a hand-rolled event queue: each accepted probe arms one timer
// at its modeled arrival time, which pushes a decoded Datagram onto a
// buffered channel when it fires. RecvReady/RecvOne simply read that
// channel, so the backend never polls.
type SimTransport struct {
	cfg SimConfig

	mu     sync.Mutex
	rng    *rand.Rand
	closed bool

	ready chan struct{}
	queue chan Datagram

	round int // advanced by the caller via NextRound, which reseeds rng from it
}

// NewSimTransport creates a Sim backend seeded per cfg.
func NewSimTransport(cfg SimConfig) *SimTransport {
	if cfg.DestinationTTL <= 0 {
		cfg.DestinationTTL = 30
	}
	return &SimTransport{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		ready: make(chan struct{}, 1),
		queue: make(chan Datagram, 4096),
	}
}

// NextRound advances the round counter and reseeds the draw stream from
// (Seed, round), so round N's loss and latency draws are reproducible
// independent of how many probes preceding rounds sent.
func (s *SimTransport) NextRound() {
	s.mu.Lock()
	s.round++
	s.rng = rand.New(rand.NewSource(s.cfg.Seed ^ int64(s.round)<<32))
	s.mu.Unlock()
}

// Send models one probe: decides loss and, if not lost, arms a timer that
// will deliver the matching response after the modeled per-hop latency.
func (s *SimTransport) Send(ctx context.Context, target net.IP, ttl int, id ProbeIdentity) (SendResult, error) {
	t0 := Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SendResult{}, ErrSocketClosed
	}
	lossProb := s.lossProbability(ttl)
	drop := s.rng.Float64() < lossProb
	latency := s.modeledLatency(ttl)
	round := s.round
	s.mu.Unlock()

	_ = round
	if drop {
		return SendResult{SendTime: t0}, nil
	}

	kind := kindTimeExceeded
	switch {
	case s.cfg.Unreachable[ttl]:
		kind = kindUnreachable
	case ttl >= s.cfg.DestinationTTL:
		kind = kindEchoReply
	}

	time.AfterFunc(latency, func() {
		s.deliver(decodedDatagram(kind, id, target, ttl))
	})

	return SendResult{SendTime: t0}, nil
}

// decodedDatagram synthesizes the wire bytes a real EchoReply/TimeExceeded
// carrying id would contain, so the same parseICMP path used by the Raw
// backend also exercises the Sim backend's output.
func decodedDatagram(kind responseKind, id ProbeIdentity, target net.IP, ttl int) Datagram {
	var payload []byte
	switch kind {
	case kindEchoReply:
		payload, _ = buildEchoReplyPacket(id)
	case kindUnreachable:
		payload, _ = buildUnreachablePacket(id)
	default:
		payload, _ = buildTimeExceededPacket(id, ttl)
	}
	return Datagram{
		Payload:  payload,
		Source:   target,
		RecvTime: Now(),
	}
}

func (s *SimTransport) deliver(d Datagram) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	d.RecvTime = Now()
	select {
	case s.queue <- d:
	default:
		// queue saturated; drop silently, matching a real socket buffer overrun
	}
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// RecvReady blocks until a datagram is queued, the transport closes, or ctx
// is cancelled.
func (s *SimTransport) RecvReady(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	hasQueued := len(s.queue) > 0
	s.mu.Unlock()
	if closed {
		return ErrSocketClosed
	}
	if hasQueued {
		return nil
	}

	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecvOne performs one non-blocking dequeue.
func (s *SimTransport) RecvOne() (Datagram, bool, error) {
	select {
	case d := <-s.queue:
		return d, true, nil
	default:
		return Datagram{}, false, nil
	}
}

// Close marks the transport closed; any timers already armed still fire but
// their deliveries are discarded.
func (s *SimTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ready)
	return nil
}

// modeledLatency implements the "base_ms = 5 + 15*hop + small_random"
// model with bounded per-sample jitter.
func (s *SimTransport) modeledLatency(ttl int) time.Duration {
	baseMs := 5.0 + 15.0*float64(ttl)
	jitterMs := s.rng.Float64() * 3.0
	return time.Duration((baseMs + jitterMs) * float64(time.Millisecond))
}

// lossProbability returns the per-hop override if configured, otherwise a
// default model that increases slightly with hop index.
func (s *SimTransport) lossProbability(ttl int) float64 {
	if p, ok := s.cfg.HopLoss[ttl]; ok {
		return p
	}
	p := 0.01 + 0.002*float64(ttl)
	if p > 0.2 {
		p = 0.2
	}
	return p
}
