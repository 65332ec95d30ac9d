package mtrengine

import (
	"context"
	"math"
	"net"
	"testing"
	"time"
)

// S2: hop 3 configured to drop 50%; over many rounds its loss percent
// should land within a binomial 95% CI, while other hops stay near zero.
func TestScenarioS2ConfiguredHopLoss(t *testing.T) {
	const rounds = 200
	transport := NewSimTransport(SimConfig{
		Seed:           11,
		DestinationTTL: 5,
		HopLoss:        map[int]float64{3: 0.5},
	})
	engine := NewEngine(net.ParseIP("203.0.113.1"), EngineConfig{
		PacketID:       0x9,
		MaxHops:        5,
		ProbeTimeoutNs: int64(500 * time.Millisecond),
	})

	for round := 0; round < rounds; round++ {
		transport.NextRound()
		engine.BeginRound()
		engine.SendBatch(context.Background(), transport)
		drainFor(t, engine, transport, 120*time.Millisecond)
		engine.SweepStale(Now())
	}

	hop3 := engine.Hops()[2]
	loss := hop3.LossPercent()

	// binomial 95% CI half-width for p=0.5, n=rounds.
	halfWidth := 100 * 1.96 * math.Sqrt(0.5*0.5/float64(rounds))
	if math.Abs(loss-50) > halfWidth+5 {
		t.Fatalf("hop3 loss = %.1f%%, want ~50%% (±%.1f)", loss, halfWidth+5)
	}

	for i, h := range engine.Hops() {
		if i == 2 {
			continue
		}
		if h.LossPercent() > 20 {
			t.Errorf("hop %d loss = %.1f%%, want low", i+1, h.LossPercent())
		}
	}
}

// S3: a stable modeled RTT (fixed per-hop base plus at most 3ms of random
// spread) converges avg toward the modeled latency with low jitter.
func TestScenarioS3ConstantLatencyLowJitter(t *testing.T) {
	const rounds = 30
	transport := NewSimTransport(SimConfig{Seed: 99, DestinationTTL: 5})
	engine := NewEngine(net.ParseIP("203.0.113.1"), EngineConfig{
		PacketID:       0x5,
		MaxHops:        5,
		ProbeTimeoutNs: int64(500 * time.Millisecond),
	})

	for round := 0; round < rounds; round++ {
		transport.NextRound()
		engine.BeginRound()
		engine.SendBatch(context.Background(), transport)
		drainFor(t, engine, transport, 120*time.Millisecond)
		engine.SweepStale(Now())
	}

	hop1 := engine.Hops()[0]
	if hop1.Received < rounds/2 {
		t.Fatalf("hop1 received too few samples: %d/%d", hop1.Received, rounds)
	}
	// modeled base latency at hop 1 is ~20ms (5 + 15*1) plus up to 3ms jitter.
	if hop1.Avg < 15_000_000 || hop1.Avg > 30_000_000 {
		t.Fatalf("hop1 avg RTT = %.0fns, want within modeled range", hop1.Avg)
	}
	// RTT spread is at most 3ms, so the smoothed jitter stays well below 5ms.
	if hop1.JitterAvg > 5_000_000 {
		t.Fatalf("hop1 jitter avg = %.0fns, want below 5ms", hop1.JitterAvg)
	}
}

// RTT increases monotonically across hops under the modeled latency
// function, matching S1's expectation.
func TestSimLatencyModelIncreasesWithHop(t *testing.T) {
	transport := NewSimTransport(SimConfig{Seed: 5})
	var prev time.Duration
	for ttl := 1; ttl <= 5; ttl++ {
		lat := transport.modeledLatency(ttl)
		if lat <= prev {
			t.Fatalf("modeledLatency(%d) = %v, not greater than previous %v", ttl, lat, prev)
		}
		prev = lat
	}
}

// A hop configured Unreachable answers every round with DestinationUnreachable
// and still credits an RTT sample, the way a filtering router on a real path
// answers probes without forwarding them further.
func TestSimUnreachableHopRecordsResponses(t *testing.T) {
	const rounds = 5
	transport := NewSimTransport(SimConfig{
		Seed:           13,
		DestinationTTL: 5,
		Unreachable:    map[int]bool{3: true},
	})
	engine := NewEngine(net.ParseIP("203.0.113.1"), EngineConfig{
		PacketID:       0x77,
		MaxHops:        5,
		ProbeTimeoutNs: int64(500 * time.Millisecond),
	})

	for round := 0; round < rounds; round++ {
		transport.NextRound()
		engine.BeginRound()
		engine.SendBatch(context.Background(), transport)
		drainFor(t, engine, transport, 150*time.Millisecond)
		engine.SweepStale(Now())
	}

	hop3 := engine.Hops()[2]
	if hop3.Received != rounds {
		t.Fatalf("hop3 received = %d, want %d", hop3.Received, rounds)
	}
	if hop3.IsTerminal {
		t.Fatal("hop3 should not be marked terminal by a DestinationUnreachable reply")
	}

	hop5 := engine.Hops()[4]
	if !hop5.IsTerminal {
		t.Fatal("hop5 should still be marked terminal via EchoReply")
	}
}

func TestSimTransportCloseIsIdempotent(t *testing.T) {
	transport := NewSimTransport(SimConfig{Seed: 1})
	if err := transport.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSimTransportSendAfterCloseFails(t *testing.T) {
	transport := NewSimTransport(SimConfig{Seed: 1})
	transport.Close()
	_, err := transport.Send(context.Background(), net.ParseIP("203.0.113.1"), 1, ProbeIdentity{})
	if err != ErrSocketClosed {
		t.Fatalf("err = %v, want ErrSocketClosed", err)
	}
}
