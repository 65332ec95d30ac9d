package mtrengine

import (
	"context"
	"net"
)

const (
	sequenceBase = 33000
	sequenceMax  = 65535

	// defaultUnknownHopRestartThreshold is the number of trailing hops with
	// no address and no responses across several rounds that triggers the
	// "too many unknowns" restart condition.
	defaultUnknownHopRestartThreshold = 5

	// defaultMaxHops bounds the TTL range when the caller doesn't override it.
	defaultMaxHops = 30

	// minProbeTimeout is the floor for probe_timeout regardless of interval.
	minProbeTimeout = int64(1_000_000_000) // 1s in ns
)

// sequenceEntry is the value held in the sequence table.
type sequenceEntry struct {
	hopIndex  int // 0-based
	sendTime  int64
	inTransit bool
}

// EngineConfig parameterizes the probe engine.
type EngineConfig struct {
	PacketID       uint16
	MaxHops        int
	ProbeTimeoutNs int64 // default: 2x round interval, floor 1s; computed by the caller
	RestartUnknownThreshold int
}

// Engine is the probe engine: sequence table, batch sender, response
// demultiplexer, and restart detector. It is not safe for
// concurrent use from more than one goroutine at a time on its mutating
// methods; the session controller serializes tick and receive tasks.
type Engine struct {
	cfg EngineConfig

	target net.IP

	sequenceTable map[uint16]*sequenceEntry
	nextSequence  uint16

	batchAt  int // 0-based hop index currently being probed within the round
	numHosts int // TTLs probed per round: starts at MaxHops, grown only by discoverHop

	hops []*HopStats

	terminalHopIndex int // -1 until discovered
	echoReplySeen    bool

	unknownStreak int

	sent              int
	roundSendFailures int
	roundSendAttempts int
}

// NewEngine constructs an engine targeting target, with hop 1 already
// materialized.
func NewEngine(target net.IP, cfg EngineConfig) *Engine {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = defaultMaxHops
	}
	if cfg.RestartUnknownThreshold <= 0 {
		cfg.RestartUnknownThreshold = defaultUnknownHopRestartThreshold
	}
	if cfg.ProbeTimeoutNs < minProbeTimeout {
		cfg.ProbeTimeoutNs = minProbeTimeout
	}

	e := &Engine{
		cfg:              cfg,
		target:           target,
		sequenceTable:    make(map[uint16]*sequenceEntry),
		nextSequence:     sequenceBase,
		terminalHopIndex: -1,
	}
	// num_hosts starts at max_hops: every round probes the full configured
	// TTL range from the first round on, so a destination discovered at any
	// TTL (including max_hops itself) is fully sampled within the caller's
	// round budget. HopStats objects are still materialized lazily via
	// ensureHop as each TTL is actually probed or responds.
	e.numHosts = cfg.MaxHops
	e.ensureHop(0)
	return e
}

// Hops returns the engine's current hop vector. Callers that need to
// publish a snapshot must copy it (see session.go's snapshot construction);
// this slice and the HopStats it points to are live engine state.
func (e *Engine) Hops() []*HopStats {
	return e.hops
}

func (e *Engine) ensureHop(index int) *HopStats {
	for len(e.hops) <= index {
		e.hops = append(e.hops, NewHopStats(len(e.hops)+1))
	}
	return e.hops[index]
}

// allocateSequence returns the next unused sequence number, advancing and
// wrapping the counter: a sequence is never reused while an older entry
// with the same value is still in the table.
func (e *Engine) allocateSequence() uint16 {
	for attempts := 0; attempts < int(sequenceMax-sequenceBase)+1; attempts++ {
		seq := e.nextSequence
		e.advanceSequence()
		if _, inUse := e.sequenceTable[seq]; !inUse {
			return seq
		}
	}
	// Table is saturated across the entire sequence space; this cannot
	// happen in practice since num_hosts << sequenceMax-sequenceBase, but
	// return whatever the counter landed on rather than hang.
	return e.nextSequence
}

func (e *Engine) advanceSequence() {
	if e.nextSequence >= sequenceMax {
		e.nextSequence = sequenceBase
	} else {
		e.nextSequence++
	}
}

// SendBatch implements net_send_batch: one probe per hop from ttl=1 to
// numHosts, each registered in the sequence table with its send timestamp.
func (e *Engine) SendBatch(ctx context.Context, transport Transport) {
	e.roundSendFailures = 0
	e.roundSendAttempts = 0

	for ttl := 1; ttl <= e.numHosts; ttl++ {
		seq := e.allocateSequence()
		id := ProbeIdentity{PacketID: e.cfg.PacketID, Sequence: seq}

		hopIndex := ttl - 1
		hop := e.ensureHop(hopIndex)

		e.roundSendAttempts++
		result, err := transport.Send(ctx, e.target, ttl, id)
		if err != nil {
			e.roundSendFailures++
			continue
		}

		e.sequenceTable[seq] = &sequenceEntry{
			hopIndex:  hopIndex,
			sendTime:  result.SendTime,
			inTransit: true,
		}
		hop.RecordSent()
		e.sent++
	}

	e.batchAt = e.numHosts
}

// SendFailureRate returns the fraction of this round's send attempts that
// failed, for the non-fatal round-warning check the session surfaces when
// it crosses 50%.
func (e *Engine) SendFailureRate() float64 {
	if e.roundSendAttempts == 0 {
		return 0
	}
	return float64(e.roundSendFailures) / float64(e.roundSendAttempts)
}

// ShouldRestart evaluates the three restart conditions (target reached,
// max hops exhausted, too many trailing unknown hops). When true, the caller resets batchAt to 0 for the next round; numHosts is
// never reset here.
func (e *Engine) ShouldRestart() bool {
	if e.echoReplySeen {
		return true
	}
	if e.batchAt >= e.cfg.MaxHops {
		return true
	}
	if e.unknownStreak >= e.cfg.RestartUnknownThreshold {
		return true
	}
	return false
}

// BeginRound clears the per-round echo-reply flag read by ShouldRestart and
// resets batchAt to 0, per the Restart glossary entry.
func (e *Engine) BeginRound() {
	e.echoReplySeen = false
	e.batchAt = 0
}

// DrainReady implements collect_responses_async's per-wakeup step: drain
// every ready datagram from transport via repeated RecvOne until it reports
// none available, matching each against the sequence table.
func (e *Engine) DrainReady(transport Transport) error {
	for {
		dg, ok, err := transport.RecvOne()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.processDatagram(dg)
	}
}

func (e *Engine) processDatagram(dg Datagram) {
	d := parseICMP(dg.Payload)
	if d.kind == kindNone {
		return
	}
	if d.packetID != e.cfg.PacketID {
		return
	}

	entry, ok := e.sequenceTable[d.sequence]
	if !ok || !entry.inTransit {
		return
	}

	rtt := clampRTT(dg.RecvTime - entry.sendTime)
	delete(e.sequenceTable, d.sequence)

	hop := e.ensureHop(entry.hopIndex)
	var addr string
	if dg.Source != nil {
		addr = dg.Source.String()
	}
	hop.RecordResponseFromAddr(addr, rtt)

	switch d.kind {
	case kindEchoReply:
		e.markTerminal(entry.hopIndex)
	case kindTimeExceeded, kindUnreachable:
		e.discoverHop(entry.hopIndex)
	}

	e.updateUnknownStreak()
}

// markTerminal reconciles the discovered terminal hop. If an earlier round
// had marked a higher TTL as terminal (the path got shorter), the marker
// migrates to the new, lower TTL and the stale higher-TTL marker is
// cleared rather than leaving two terminal rows.
func (e *Engine) markTerminal(hopIndex int) {
	e.echoReplySeen = true
	e.discoverHop(hopIndex)

	if e.terminalHopIndex == -1 || hopIndex < e.terminalHopIndex {
		if e.terminalHopIndex != -1 && e.terminalHopIndex < len(e.hops) {
			e.hops[e.terminalHopIndex].IsTerminal = false
		}
		e.terminalHopIndex = hopIndex
	}
	if hopIndex < len(e.hops) {
		e.hops[hopIndex].IsTerminal = true
	}
}

// discoverHop grows numHosts to include hopIndex+1 when a response arrives
// from a previously-unseen TTL.
func (e *Engine) discoverHop(hopIndex int) {
	e.ensureHop(hopIndex)
	if hopIndex+1 > e.numHosts {
		e.numHosts = hopIndex + 1
	}
}

// updateUnknownStreak recomputes the trailing run of hops with no address
// and no responses, feeding the "too many unknowns" restart condition.
func (e *Engine) updateUnknownStreak() {
	streak := 0
	for i := len(e.hops) - 1; i >= 0; i-- {
		h := e.hops[i]
		if h.Address == "" && h.Received == 0 {
			streak++
		} else {
			break
		}
	}
	e.unknownStreak = streak
}

// SweepStale scans the sequence table for entries older than probe_timeout
// (now - entry.sendTime), removes them, and records a timeout against
// their hop. Called once per round end.
func (e *Engine) SweepStale(now int64) {
	for seq, entry := range e.sequenceTable {
		if now-entry.sendTime < e.cfg.ProbeTimeoutNs {
			continue
		}
		delete(e.sequenceTable, seq)
		if entry.hopIndex < len(e.hops) {
			e.hops[entry.hopIndex].RecordTimeout()
		}
	}
}

// PendingCount returns the number of probes currently in the sequence
// table, used by the session controller to decide when draining during
// shutdown is complete.
func (e *Engine) PendingCount() int {
	return len(e.sequenceTable)
}

// NumHosts returns the number of TTLs probed per round. It starts at
// MaxHops and grows only when discoverHop sees a hop beyond it.
func (e *Engine) NumHosts() int {
	return e.numHosts
}
