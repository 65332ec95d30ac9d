package mtrengine

// HopView is a read-only, independent copy of one hop's state, as
// published to the Observer interface. It must never alias
// the engine's live HopStats.
type HopView struct {
	HopNumber  int
	Address    string
	IsTerminal bool

	Sent     int
	Received int

	Last  int64
	Best  int64
	Worst int64
	Avg   float64
	EMA   float64

	JitterLast int64
	JitterAvg  float64

	LossPercent float64

	// RecentRTTs is a defensive copy of the hop's RTT ring, oldest first,
	// for sparkline rendering.
	RecentRTTs []int64

	// PathCount is the number of distinct addresses this hop has answered
	// from. 1 means a single stable path; higher means a route change or
	// load-balanced equal-cost path was observed mid-session.
	PathCount int

	// PrimaryPathPercent is the share of received responses attributed to
	// Address rather than an alternate path.
	PrimaryPathPercent float64
}

// Snapshot is the full point-in-time view published after every mutation.
// Snapshots need not be transactionally consistent across hops; observers
// must tolerate partial rounds.
type Snapshot struct {
	Round int
	Hops  []HopView
}

// Observer receives snapshots as the session progresses.
type Observer interface {
	OnSnapshot(Snapshot)
}

// snapshotFrom builds an independent-copy Snapshot from the engine's live
// hop vector.
func snapshotFrom(round int, hops []*HopStats) Snapshot {
	views := make([]HopView, len(hops))
	for i, h := range hops {
		views[i] = HopView{
			HopNumber:          h.HopNumber,
			Address:            h.Address,
			IsTerminal:         h.IsTerminal,
			Sent:               h.Sent,
			Received:           h.Received,
			Last:               h.Last,
			Best:               h.Best,
			Worst:              h.Worst,
			Avg:                h.Avg,
			EMA:                h.EMA,
			JitterLast:         h.JitterLast,
			JitterAvg:          h.JitterAvg,
			LossPercent:        h.LossPercent(),
			RecentRTTs:         h.RecentRTTs(),
			PathCount:          len(h.Paths),
			PrimaryPathPercent: h.PrimaryPathPercent(),
		}
	}
	return Snapshot{Round: round, Hops: views}
}
