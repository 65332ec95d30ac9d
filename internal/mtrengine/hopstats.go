package mtrengine

// rttRingCapacity is the ring buffer size backing sparkline and variance
// sampling.
const rttRingCapacity = 64

// emaAlpha is the EMA smoothing factor.
const emaAlpha = 0.1

// PathStats tracks one address a hop has been observed answering from.
// A hop normally answers from one address every round; when a route change
// or load-balancing makes it answer from more than one, each distinct
// address gets its own PathStats keyed by how often it has been seen.
type PathStats struct {
	Frequency int
	LastRTT   int64
}

// HopStats is the per-hop rolling aggregate: counts, recent RTT series, EMA,
// and jitter. All RTTs are stored in nanoseconds; formatting is a consumer
// concern (FormatDuration).
type HopStats struct {
	HopNumber int    // 1-based
	Address   string // most frequently observed responding address, may be empty

	// Paths tracks every distinct address this hop has answered from, keyed
	// by address. Address always has an entry once Received > 0; a second
	// key means the hop has shown more than one path.
	Paths map[string]*PathStats

	Sent     int
	Received int

	ring     [rttRingCapacity]int64
	ringLen  int
	ringHead int // next write position

	Last  int64
	Best  int64
	Worst int64
	Avg   float64
	EMA   float64
	hasEMA bool

	JitterLast int64
	JitterAvg  float64

	ConsecutiveTimeouts int
	IsTerminal          bool
}

// NewHopStats creates an empty aggregate for the given 1-based hop number.
func NewHopStats(hopNumber int) *HopStats {
	return &HopStats{HopNumber: hopNumber}
}

// RecordSent increments the sent counter. Called at probe send time,
// independent of whether a response ever arrives.
func (h *HopStats) RecordSent() {
	h.Sent++
}

// RecordResponse folds a matched RTT sample (nanoseconds) into every
// derived metric: last, best, worst, running average, EMA, and jitter.
func (h *HopStats) RecordResponse(rttNanos int64) {
	rtt := clampRTT(rttNanos)

	h.appendRing(rtt)

	prev := h.Last
	hadPrior := h.Received > 0

	h.Received++
	h.Last = rtt

	if h.Best == 0 || rtt < h.Best {
		h.Best = rtt
	}
	if rtt > h.Worst {
		h.Worst = rtt
	}

	// Incremental average: avg += (rtt - avg) / received
	h.Avg += (float64(rtt) - h.Avg) / float64(h.Received)

	if !h.hasEMA {
		h.EMA = float64(rtt)
		h.hasEMA = true
	} else {
		h.EMA = emaAlpha*float64(rtt) + (1-emaAlpha)*h.EMA
	}

	if hadPrior {
		var diff int64
		if rtt > prev {
			diff = rtt - prev
		} else {
			diff = prev - rtt
		}
		h.JitterLast = diff
		h.JitterAvg += (float64(diff) - h.JitterAvg) / 16.0
	} else {
		h.JitterLast = 0
	}

	h.ConsecutiveTimeouts = 0
}

// RecordResponseFromAddr folds a matched response into the hop, handling
// multi-path hops the way a load-balanced route does: the address seen most
// often becomes Address and drives every RTT/jitter/EMA metric via
// RecordResponse; any other address seen for this hop is tracked in Paths
// without perturbing those metrics, since mixing RTTs from different real
// paths into one series would make the jitter and EMA meaningless.
func (h *HopStats) RecordResponseFromAddr(addr string, rttNanos int64) {
	if addr == "" {
		h.RecordResponse(rttNanos)
		return
	}

	if h.Paths == nil {
		h.Paths = make(map[string]*PathStats)
	}
	path, ok := h.Paths[addr]
	if !ok {
		path = &PathStats{}
		h.Paths[addr] = path
	}
	path.Frequency++
	path.LastRTT = clampRTT(rttNanos)

	primary := h.Address == "" || addr == h.Address
	if !primary {
		if current, ok := h.Paths[h.Address]; !ok || path.Frequency > current.Frequency {
			primary = true
		}
	}

	if primary {
		h.Address = addr
		h.RecordResponse(rttNanos)
		return
	}

	h.Received++
}

// HasMultiplePaths reports whether this hop has answered from more than one
// address.
func (h *HopStats) HasMultiplePaths() bool {
	return len(h.Paths) > 1
}

// PrimaryPathPercent returns the share of received responses attributed to
// Address rather than an alternate path, or 100 if no path data exists yet.
func (h *HopStats) PrimaryPathPercent() float64 {
	if len(h.Paths) == 0 || h.Received == 0 {
		return 100
	}
	primary := h.Paths[h.Address]
	if primary == nil {
		return 100
	}
	total := 0
	for _, p := range h.Paths {
		total += p.Frequency
	}
	if total == 0 {
		return 100
	}
	return 100 * float64(primary.Frequency) / float64(total)
}

// RecordTimeout marks a probe as lost without crediting a response. sent was
// already incremented at send time; received is left untouched.
func (h *HopStats) RecordTimeout() {
	h.ConsecutiveTimeouts++
}

// Reset clears all counters and samples, used when a hop's identity changes
// enough that historical stats no longer apply (not used by normal
// load-balanced-path handling, which intentionally keeps history).
func (h *HopStats) Reset() {
	hopNumber := h.HopNumber
	*h = HopStats{HopNumber: hopNumber}
}

// LossPercent returns 100*(sent-received)/sent, or 0 if nothing was sent yet.
func (h *HopStats) LossPercent() float64 {
	if h.Sent == 0 {
		return 0
	}
	return 100 * float64(h.Sent-h.Received) / float64(h.Sent)
}

// RecentRTTs returns the ring buffer contents in chronological order
// (oldest first), for sparkline rendering and variance calculations.
func (h *HopStats) RecentRTTs() []int64 {
	out := make([]int64, h.ringLen)
	if h.ringLen == 0 {
		return out
	}
	start := (h.ringHead - h.ringLen + rttRingCapacity) % rttRingCapacity
	for i := 0; i < h.ringLen; i++ {
		out[i] = h.ring[(start+i)%rttRingCapacity]
	}
	return out
}

func (h *HopStats) appendRing(rtt int64) {
	h.ring[h.ringHead] = rtt
	h.ringHead = (h.ringHead + 1) % rttRingCapacity
	if h.ringLen < rttRingCapacity {
		h.ringLen++
	}
}
