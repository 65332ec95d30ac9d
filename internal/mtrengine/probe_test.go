package mtrengine

import (
	"context"
	"net"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, maxHops int) (*Engine, *SimTransport) {
	t.Helper()
	transport := NewSimTransport(SimConfig{Seed: 1, DestinationTTL: maxHops})
	engine := NewEngine(net.ParseIP("203.0.113.1"), EngineConfig{
		PacketID:       0xABCD,
		MaxHops:        maxHops,
		ProbeTimeoutNs: int64(2 * time.Second),
	})
	return engine, transport
}

func drainFor(t *testing.T, engine *Engine, transport *SimTransport, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	for {
		if err := transport.RecvReady(ctx); err != nil {
			return
		}
		if err := engine.DrainReady(transport); err != nil {
			return
		}
	}
}

// S1: zero loss, 5 hops, 3 rounds. Every hop discovered, sent == received,
// terminal hop marked.
func TestScenarioS1ZeroLossFullDiscovery(t *testing.T) {
	transport := NewSimTransport(SimConfig{
		Seed:           1,
		DestinationTTL: 5,
		HopLoss:        map[int]float64{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	})
	engine := NewEngine(net.ParseIP("203.0.113.1"), EngineConfig{
		PacketID:       0xABCD,
		MaxHops:        5,
		ProbeTimeoutNs: int64(2 * time.Second),
	})

	for round := 0; round < 3; round++ {
		transport.NextRound()
		engine.BeginRound()
		engine.SendBatch(context.Background(), transport)
		drainFor(t, engine, transport, 200*time.Millisecond)
		engine.SweepStale(Now())
	}

	if engine.NumHosts() < 5 {
		t.Fatalf("NumHosts = %d, want >= 5", engine.NumHosts())
	}

	terminalFound := false
	for i, h := range engine.Hops() {
		if i >= 5 {
			break
		}
		if h.Sent != 3 {
			t.Errorf("hop %d sent = %d, want 3", i+1, h.Sent)
		}
		if h.Received != 3 {
			t.Errorf("hop %d received = %d, want 3", i+1, h.Received)
		}
		if h.IsTerminal {
			terminalFound = true
		}
	}
	if !terminalFound {
		t.Fatal("no terminal hop marked")
	}
}

// S5: an out-of-range ICMP type produces no sent/received delta.
func TestScenarioS5UnknownTypeIgnored(t *testing.T) {
	engine, _ := newTestEngine(t, 3)
	before := make([]int, len(engine.Hops()))
	for i, h := range engine.Hops() {
		before[i] = h.Received
	}

	engine.processDatagram(Datagram{
		Payload:  []byte{5, 0, 0, 0, 0, 0, 0, 0},
		RecvTime: Now(),
	})

	for i, h := range engine.Hops() {
		if h.Received != before[i] {
			t.Fatalf("hop %d received changed from unknown ICMP type", i+1)
		}
	}
}

// S6: cancelling mid-round still lets every probe resolve (match or
// timeout) within probe_timeout, emptying the sequence table.
func TestScenarioS6DrainOnCancel(t *testing.T) {
	engine, transport := newTestEngine(t, 5)
	engine.BeginRound()
	engine.SendBatch(context.Background(), transport)

	if engine.PendingCount() == 0 {
		t.Fatal("expected in-flight probes after SendBatch")
	}

	deadline := time.Now().Add(2 * time.Second)
	for engine.PendingCount() > 0 && time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if err := transport.RecvReady(ctx); err == nil {
			engine.DrainReady(transport)
		}
		cancel()
		engine.SweepStale(Now())
	}

	if engine.PendingCount() != 0 {
		t.Fatalf("sequence table not empty after drain: %d entries", engine.PendingCount())
	}
}

// Invariant 9: the sequence counter wraps from 65535 to 33000 without
// collision when the table is empty at wrap.
func TestSequenceWrapsWithoutCollision(t *testing.T) {
	engine, _ := newTestEngine(t, 1)
	engine.nextSequence = sequenceMax

	first := engine.allocateSequence()
	if first != sequenceMax {
		t.Fatalf("first allocation = %d, want %d", first, sequenceMax)
	}
	second := engine.allocateSequence()
	if second != sequenceBase {
		t.Fatalf("second allocation = %d, want wrap to %d", second, sequenceBase)
	}
}

// A response arriving after probe_timeout has already swept the entry is
// ignored, not double-counted.
func TestStaleEntrySweptBeforeLateResponse(t *testing.T) {
	engine, transport := newTestEngine(t, 1)
	engine.cfg.ProbeTimeoutNs = 1 // effectively immediate

	engine.BeginRound()
	engine.SendBatch(context.Background(), transport)
	if engine.PendingCount() == 0 {
		t.Fatal("expected an in-flight probe")
	}

	time.Sleep(5 * time.Millisecond)
	engine.SweepStale(Now())
	if engine.PendingCount() != 0 {
		t.Fatalf("expected sweep to remove stale entry, got %d pending", engine.PendingCount())
	}
	if engine.hops[0].ConsecutiveTimeouts != 1 {
		t.Fatalf("expected timeout recorded, got %d", engine.hops[0].ConsecutiveTimeouts)
	}

	// A late response for the swept sequence must find no table entry.
	engine.processDatagram(Datagram{
		Payload:  mustBuildEchoReply(t, ProbeIdentity{PacketID: engine.cfg.PacketID, Sequence: sequenceBase}),
		RecvTime: Now(),
	})
	if engine.hops[0].Received != 0 {
		t.Fatalf("late response after sweep credited a receive: %d", engine.hops[0].Received)
	}
}

func mustBuildEchoReply(t *testing.T, id ProbeIdentity) []byte {
	t.Helper()
	raw, err := buildEchoReplyPacket(id)
	if err != nil {
		t.Fatalf("buildEchoReplyPacket: %v", err)
	}
	return raw
}

type noopTransport struct{}

func (noopTransport) Send(ctx context.Context, target net.IP, ttl int, id ProbeIdentity) (SendResult, error) {
	return SendResult{SendTime: Now()}, nil
}
func (noopTransport) RecvReady(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (noopTransport) RecvOne() (Datagram, bool, error) { return Datagram{}, false, nil }
func (noopTransport) Close() error                     { return nil }

// S4: two responses for the same hop, sent a round apart, arrive out of
// order (round 2's response is delivered before round 1's). Matching is by
// (packet_id, sequence), not arrival order, so both must be credited to
// hop 4 with no cross-round mixup.
func TestScenarioS4OutOfOrderDelivery(t *testing.T) {
	engine, _ := newTestEngine(t, 4)
	transport := noopTransport{}
	const hopIndex = 3

	engine.BeginRound()
	engine.SendBatch(context.Background(), transport)

	engine.BeginRound()
	engine.SendBatch(context.Background(), transport)

	var round1Seq, round2Seq uint16
	var round1Send, round2Send int64
	found := 0
	for seq, entry := range engine.sequenceTable {
		if entry.hopIndex != hopIndex {
			continue
		}
		found++
		if round1Send == 0 || entry.sendTime < round1Send {
			round2Seq, round2Send = round1Seq, round1Send
			round1Seq, round1Send = seq, entry.sendTime
		} else {
			round2Seq, round2Send = seq, entry.sendTime
		}
	}
	if found != 2 {
		t.Fatalf("expected 2 in-flight entries for hop %d, found %d", hopIndex+1, found)
	}
	if round1Send >= round2Send {
		t.Fatalf("round1Send %d should precede round2Send %d", round1Send, round2Send)
	}

	round2Payload, err := buildTimeExceededPacket(ProbeIdentity{PacketID: engine.cfg.PacketID, Sequence: round2Seq}, hopIndex+1)
	if err != nil {
		t.Fatalf("buildTimeExceededPacket(round2): %v", err)
	}
	round1Payload, err := buildTimeExceededPacket(ProbeIdentity{PacketID: engine.cfg.PacketID, Sequence: round1Seq}, hopIndex+1)
	if err != nil {
		t.Fatalf("buildTimeExceededPacket(round1): %v", err)
	}

	// Deliver the later round's response first.
	engine.processDatagram(Datagram{Payload: round2Payload, RecvTime: Now()})
	engine.processDatagram(Datagram{Payload: round1Payload, RecvTime: Now()})

	hop := engine.hops[hopIndex]
	if hop.Received != 2 {
		t.Fatalf("hop %d received = %d, want 2", hopIndex+1, hop.Received)
	}
	for _, seq := range []uint16{round1Seq, round2Seq} {
		if _, ok := engine.sequenceTable[seq]; ok {
			t.Fatalf("expected both entries matched and removed, sequence %d for hop %d still pending", seq, hopIndex+1)
		}
	}
}

// Invariant 1: received never exceeds sent for any hop across a batch.
func TestReceivedNeverExceedsSentAcrossBatch(t *testing.T) {
	engine, transport := newTestEngine(t, 5)
	for round := 0; round < 5; round++ {
		transport.NextRound()
		engine.BeginRound()
		engine.SendBatch(context.Background(), transport)
		drainFor(t, engine, transport, 150*time.Millisecond)
		engine.SweepStale(Now())

		for i, h := range engine.Hops() {
			if h.Received > h.Sent {
				t.Fatalf("round %d hop %d: received %d > sent %d", round, i+1, h.Received, h.Sent)
			}
		}
	}
}
