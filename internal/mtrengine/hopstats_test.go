package mtrengine

import (
	"math"
	"testing"
)

func TestHopStatsRecordResponseBasics(t *testing.T) {
	h := NewHopStats(1)
	h.RecordSent()
	h.RecordResponse(10_000_000)

	if h.Received != 1 {
		t.Fatalf("Received = %d, want 1", h.Received)
	}
	if h.Last != 10_000_000 || h.Best != 10_000_000 || h.Worst != 10_000_000 {
		t.Fatalf("last/best/worst not seeded from first sample: %+v", h)
	}
	if h.EMA != 10_000_000 {
		t.Fatalf("EMA not seeded to first sample: %v", h.EMA)
	}
	if h.JitterLast != 0 {
		t.Fatalf("first sample should not produce jitter: %v", h.JitterLast)
	}
}

func TestHopStatsLossPercent(t *testing.T) {
	h := NewHopStats(1)
	for i := 0; i < 10; i++ {
		h.RecordSent()
	}
	for i := 0; i < 7; i++ {
		h.RecordResponse(int64(i + 1))
	}
	if got := h.LossPercent(); math.Abs(got-30) > 1e-9 {
		t.Fatalf("LossPercent = %v, want 30", got)
	}
}

func TestHopStatsLossPercentNoSamples(t *testing.T) {
	h := NewHopStats(1)
	if got := h.LossPercent(); got != 0 {
		t.Fatalf("LossPercent with sent=0 = %v, want 0", got)
	}
}

// received never exceeds sent regardless of call order (spec invariant 2).
func TestHopStatsReceivedNeverExceedsSent(t *testing.T) {
	h := NewHopStats(1)
	h.RecordSent()
	h.RecordResponse(5)
	if h.Received > h.Sent {
		t.Fatalf("received %d > sent %d", h.Received, h.Sent)
	}
}

// EMA converges toward the new sample: after seeding, each update must move
// closer to (or equal) the incoming RTT than the previous EMA was.
func TestHopStatsEMAConverges(t *testing.T) {
	h := NewHopStats(1)
	rtts := []int64{10_000_000, 10_000_000, 10_000_000, 50_000_000}
	var prevEMA float64
	for i, rtt := range rtts {
		h.RecordSent()
		h.RecordResponse(rtt)
		if i == 0 {
			prevEMA = h.EMA
			continue
		}
		distNow := math.Abs(h.EMA - float64(rtt))
		distPrev := math.Abs(prevEMA - float64(rtt))
		if distNow > distPrev+1e-9 {
			t.Fatalf("EMA did not converge toward sample: prevEMA=%v ema=%v rtt=%v", prevEMA, h.EMA, rtt)
		}
		prevEMA = h.EMA
	}
}

// Constant RTT sequence drives jitter toward zero (spec invariant 6).
func TestHopStatsJitterConvergesOnConstantRTT(t *testing.T) {
	h := NewHopStats(1)
	for i := 0; i < 30; i++ {
		h.RecordSent()
		h.RecordResponse(10_000_000)
	}
	if h.JitterAvg < 0 {
		t.Fatalf("jitter must be non-negative, got %v", h.JitterAvg)
	}
	if h.JitterAvg > 0.05*10_000_000 {
		t.Fatalf("jitter did not converge near 0 for constant RTT: %v", h.JitterAvg)
	}
}

func TestHopStatsRingBufferCapacity(t *testing.T) {
	h := NewHopStats(1)
	for i := 0; i < rttRingCapacity+10; i++ {
		h.RecordSent()
		h.RecordResponse(int64(i + 1))
	}
	samples := h.RecentRTTs()
	if len(samples) != rttRingCapacity {
		t.Fatalf("RecentRTTs length = %d, want %d", len(samples), rttRingCapacity)
	}
	// oldest-first: first sample in the buffer should be the 11th RTT fed in.
	if samples[0] != 11 {
		t.Fatalf("RecentRTTs[0] = %d, want 11", samples[0])
	}
	if samples[len(samples)-1] != int64(rttRingCapacity+10) {
		t.Fatalf("RecentRTTs last = %d, want %d", samples[len(samples)-1], rttRingCapacity+10)
	}
}

func TestHopStatsSinglePathRecordsAddress(t *testing.T) {
	h := NewHopStats(1)
	h.RecordSent()
	h.RecordResponseFromAddr("203.0.113.1", 10_000_000)
	if h.Address != "203.0.113.1" {
		t.Fatalf("Address = %q, want 203.0.113.1", h.Address)
	}
	if h.HasMultiplePaths() {
		t.Fatal("single address should not report multiple paths")
	}
}

// A hop that answers from a second address more often than the first
// promotes that address to primary, migrating Address and folding its RTTs
// into the main series rather than the one that lost the majority.
func TestHopStatsMultiPathPromotesMoreFrequentAddress(t *testing.T) {
	h := NewHopStats(2)
	h.RecordSent()
	h.RecordResponseFromAddr("10.0.0.1", 20_000_000)

	for i := 0; i < 3; i++ {
		h.RecordSent()
		h.RecordResponseFromAddr("10.0.0.2", 25_000_000)
	}

	if h.Address != "10.0.0.2" {
		t.Fatalf("Address = %q, want 10.0.0.2 (more frequent path)", h.Address)
	}
	if !h.HasMultiplePaths() {
		t.Fatal("expected HasMultiplePaths once a second address is seen")
	}
	if h.Received != 4 {
		t.Fatalf("Received = %d, want 4 (every response counted regardless of path)", h.Received)
	}
}

func TestHopStatsPrimaryPathPercent(t *testing.T) {
	h := NewHopStats(3)
	for i := 0; i < 8; i++ {
		h.RecordSent()
		h.RecordResponseFromAddr("192.0.2.1", 15_000_000)
	}
	for i := 0; i < 2; i++ {
		h.RecordSent()
		h.RecordResponseFromAddr("192.0.2.2", 15_000_000)
	}

	pct := h.PrimaryPathPercent()
	if pct < 75 || pct > 85 {
		t.Fatalf("PrimaryPathPercent = %v, want ~80", pct)
	}
}

func TestHopStatsRecordTimeoutDoesNotCreditReceived(t *testing.T) {
	h := NewHopStats(1)
	h.RecordSent()
	h.RecordTimeout()
	if h.Received != 0 {
		t.Fatalf("Received = %d after timeout, want 0", h.Received)
	}
	if h.ConsecutiveTimeouts != 1 {
		t.Fatalf("ConsecutiveTimeouts = %d, want 1", h.ConsecutiveTimeouts)
	}
}
