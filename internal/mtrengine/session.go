package mtrengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hopwatch/hopwatch/internal/logging"
)

var sessionLog = logging.New(logging.NSSession)

// State is a position in the session controller's state machine.
type State int

const (
	StateResolving State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Target  string
	Count   int // 0 means run until cancelled
	Interval time.Duration
	MaxHops int

	PacketID uint16
	RestartUnknownThreshold int

	// Resolve performs the Resolving-state hostname lookup. Defaults to
	// net.DefaultResolver via defaultResolve when nil.
	Resolve func(ctx context.Context, target string) (net.IP, error)
}

// Session is the controller: owns the transport and the engine, drives
// the tick and receive tasks, and publishes snapshots.
type Session struct {
	cfg       SessionConfig
	transport Transport
	engine    *Engine

	mu    sync.Mutex
	state State

	observers []Observer

	round       int
	lastRestart bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession resolves the target (State Resolving) and constructs the
// engine, but does not start probing — call Run to enter State Running.
func NewSession(ctx context.Context, cfg SessionConfig, transport Transport) (*Session, error) {
	s := &Session{
		cfg:       cfg,
		transport: transport,
		state:     StateResolving,
		done:      make(chan struct{}),
	}

	resolve := cfg.Resolve
	if resolve == nil {
		resolve = defaultResolve
	}

	ip, err := resolve(ctx, cfg.Target)
	if err != nil {
		if !errors.Is(err, ErrUnresolvable) {
			err = fmt.Errorf("%w: %v", ErrUnresolvable, err)
		}
		return nil, err
	}

	s.engine = NewEngine(ip, EngineConfig{
		PacketID:                cfg.PacketID,
		MaxHops:                 cfg.MaxHops,
		ProbeTimeoutNs:           probeTimeoutFor(cfg.Interval),
		RestartUnknownThreshold: cfg.RestartUnknownThreshold,
	})

	return s, nil
}

func probeTimeoutFor(interval time.Duration) int64 {
	ns := int64(2 * interval)
	if ns < minProbeTimeout {
		ns = minProbeTimeout
	}
	return ns
}

func defaultResolve(ctx context.Context, target string) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, target)
	if err != nil || len(addrs) == 0 {
		return nil, ErrUnresolvable
	}
	return addrs[0].IP, nil
}

// Subscribe registers an observer for future snapshots.
func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// State returns the controller's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session to completion: Resolving (already done by
// NewSession) → Running → Stopping → Stopped. It returns when cfg.Count
// rounds have completed or ctx is cancelled. All transport resources are
// released before Run returns, on every exit path.
func (s *Session) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.state = StateRunning
	s.mu.Unlock()
	sessionLog.Debug("session running: target=%s maxHops=%d count=%d", s.cfg.Target, s.cfg.MaxHops, s.cfg.Count)

	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		close(s.done)
		s.transport.Close()
	}()

	recvErrCh := make(chan error, 1)
	go s.receiveLoop(runCtx, recvErrCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if s.cfg.Count > 0 && s.round >= s.cfg.Count {
			break
		}

		select {
		case <-runCtx.Done():
			goto stopping
		default:
		}

		s.mu.Lock()
		s.engine.BeginRound()
		s.engine.SendBatch(runCtx, s.transport)
		s.lastRestart = s.engine.ShouldRestart()
		failureRate := s.engine.SendFailureRate()
		s.mu.Unlock()
		s.round++
		if failureRate > 0.5 {
			sessionLog.Warn("round %d: send failure rate %.0f%% (target %s)", s.round, failureRate*100, s.cfg.Target)
		}
		s.publish()

		select {
		case <-ticker.C:
		case <-runCtx.Done():
			goto stopping
		}

		s.mu.Lock()
		s.engine.SweepStale(Now())
		s.mu.Unlock()
		s.publish()
	}

stopping:
	s.mu.Lock()
	s.state = StateStopping
	s.mu.Unlock()
	sessionLog.Debug("session stopping: target=%s rounds=%d", s.cfg.Target, s.round)

	s.drainUntilEmpty()
	cancel()
	<-recvErrCh
	return nil
}

// drainUntilEmpty waits for the sequence table to empty (every in-flight
// probe matched or timed out) or for probe_timeout to elapse.
func (s *Session) drainUntilEmpty() {
	deadline := time.Now().Add(time.Duration(s.engine.cfg.ProbeTimeoutNs))
	for time.Now().Before(deadline) {
		s.mu.Lock()
		s.engine.SweepStale(Now())
		pending := s.engine.PendingCount()
		s.mu.Unlock()
		if pending == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.mu.Lock()
	s.engine.SweepStale(Now())
	s.mu.Unlock()
	s.publish()
}

// receiveLoop is the receive task: suspends on transport.RecvReady and
// drains ready datagrams until ctx is cancelled. Its only mandatory
// suspension point is the readiness wait.
func (s *Session) receiveLoop(ctx context.Context, errCh chan<- error) {
	defer close(errCh)
	for {
		if err := s.transport.RecvReady(ctx); err != nil {
			return
		}

		s.mu.Lock()
		_ = s.engine.DrainReady(s.transport)
		s.mu.Unlock()
		s.publish()

		if ctx.Err() != nil {
			return
		}
	}
}

// Stop requests cancellation; Run will transition through Stopping to
// Stopped and return.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the session reaches State Stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastRestart reports whether the most recently completed round satisfied
// a restart condition (target reached, max hops exhausted, or too many
// trailing unknown hops).
func (s *Session) LastRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRestart
}

// SendFailureRate exposes the engine's most recent round send-failure
// ratio, for surfacing the non-fatal round warning.
func (s *Session) SendFailureRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SendFailureRate()
}

func (s *Session) publish() {
	s.mu.Lock()
	snap := snapshotFrom(s.round, s.engine.Hops())
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.OnSnapshot(snap)
	}
}
