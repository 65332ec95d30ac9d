package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hopwatch/hopwatch/internal/mtrengine"
)

// HostResolver supplies a display string for an address, looked up out of
// band from rendering; see output.HostResolver for the same contract used
// by the plain-text/report path.
type HostResolver interface {
	Resolve(ip string) string
}

// MTRModel is the Bubble Tea model for the continuous probe session view.
// It subscribes to the session as an mtrengine.Observer and redraws on
// every published snapshot, rather than driving a one-shot trace.
type MTRModel struct {
	target   string
	session  *mtrengine.Session
	fields   []string
	numeric  bool
	resolver HostResolver

	width, height int
	startTime     time.Time

	snap      mtrengine.Snapshot
	restarted bool
	err       error
	done      bool

	spinner spinner.Model
	styles  Styles

	snapCh chan mtrengine.Snapshot
}

// mtrSnapMsg wraps a published snapshot for the Bubble Tea event loop.
type mtrSnapMsg mtrengine.Snapshot

type mtrDoneMsg struct{ err error }

// NewMTR builds a live model over an already-constructed session. The
// caller owns starting and stopping the session's Run loop.
func NewMTR(target string, session *mtrengine.Session, fields []string, numeric bool) *MTRModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if len(fields) == 0 {
		fields = []string{"hop", "host", "loss", "sent", "last", "avg", "best", "worst", "graph"}
	}

	m := &MTRModel{
		target:    target,
		session:   session,
		fields:    fields,
		numeric:   numeric,
		width:     80,
		height:    24,
		startTime: time.Now(),
		spinner:   s,
		styles:    DefaultStyles(),
		snapCh:    make(chan mtrengine.Snapshot, 16),
	}
	session.Subscribe(m)
	return m
}

// SetResolver attaches a HostResolver used by the host column; see
// output.MTRFormatter.SetResolver for the equivalent on the report path.
func (m *MTRModel) SetResolver(r HostResolver) {
	m.resolver = r
}

// OnSnapshot implements mtrengine.Observer. Called from the session's
// goroutines, so it must not block; when the channel is full the incoming
// snapshot is dropped (the next snapshot supersedes it anyway).
func (m *MTRModel) OnSnapshot(snap mtrengine.Snapshot) {
	select {
	case m.snapCh <- snap:
	default:
	}
}

// RunMTR starts the session and the Bubble Tea program together, returning
// once the user quits or the session ends. resolver may be nil to disable
// hostname/ASN/GeoIP enrichment of the host column.
func RunMTR(ctx context.Context, target string, session *mtrengine.Session, fields []string, numeric bool, resolver HostResolver) error {
	model := NewMTR(target, session, fields, numeric)
	if resolver != nil {
		model.SetResolver(resolver)
	}

	go func() {
		_ = session.Run(ctx)
		close(model.snapCh)
	}()

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	session.Stop()
	<-session.Done()
	return err
}

func (m *MTRModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForSnapshot())
}

func (m *MTRModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.snapCh
		if !ok {
			return mtrDoneMsg{}
		}
		return mtrSnapMsg(snap)
	}
}

func (m *MTRModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.session.Stop()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case mtrSnapMsg:
		m.snap = mtrengine.Snapshot(msg)
		m.restarted = m.session.LastRestart()
		select {
		case <-m.session.Done():
			m.done = true
			return m, tea.Quit
		default:
		}
		return m, m.waitForSnapshot()
	case mtrDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *MTRModel) View() string {
	var b strings.Builder

	title := m.styles.Title.Render("hopwatch")
	status := m.spinner.View() + " probing"
	if m.done {
		status = m.styles.Success.Render("✓ done")
	}
	info := fmt.Sprintf("Target: %s | Round: %d", m.target, m.snap.Round)
	if m.restarted {
		info += " | restarted"
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, title, m.styles.Subtle.Render(info), status))
	b.WriteString("\n\n")

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.styles.Subtle.Render(strings.Repeat("─", 80)))
	b.WriteString("\n")
	for _, hop := range m.snap.Hops {
		b.WriteString(m.renderRow(hop))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if rate := m.session.SendFailureRate(); rate > 0.5 {
		b.WriteString(m.styles.Warning.Render(fmt.Sprintf("send failure rate %.0f%% this round", rate*100)))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.Subtle.Render("Press 'q' to quit"))
	return b.String()
}

func (m *MTRModel) renderHeader() string {
	cols := make([]string, len(m.fields))
	for i, f := range m.fields {
		cols[i] = fmt.Sprintf("%-8s", strings.ToUpper(f))
	}
	return m.styles.Header.Render(strings.Join(cols, " "))
}

func (m *MTRModel) renderRow(h mtrengine.HopView) string {
	cols := make([]string, len(m.fields))
	for i, f := range m.fields {
		cols[i] = fmt.Sprintf("%-8s", m.cell(h, f))
	}
	return strings.Join(cols, " ")
}

func (m *MTRModel) cell(h mtrengine.HopView, field string) string {
	switch field {
	case "hop":
		return fmt.Sprintf("%d", h.HopNumber)
	case "host":
		if h.Address == "" {
			return "???"
		}
		if !m.numeric && m.resolver != nil {
			if display := m.resolver.Resolve(h.Address); display != "" {
				return display
			}
		}
		return h.Address
	case "loss":
		return fmt.Sprintf("%.1f%%", h.LossPercent)
	case "sent":
		return fmt.Sprintf("%d", h.Sent)
	case "last":
		return msString(h.Last)
	case "avg":
		return msFloatString(h.Avg)
	case "ema":
		return msFloatString(h.EMA)
	case "jitter":
		return msString(h.JitterLast)
	case "jitter-avg":
		return msFloatString(h.JitterAvg)
	case "best":
		return msString(h.Best)
	case "worst":
		return msString(h.Worst)
	case "graph":
		return sparkline(h.RecentRTTs)
	default:
		return "-"
	}
}

func msString(ns int64) string {
	if ns <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1fms", float64(ns)/1e6)
}

func msFloatString(ns float64) string {
	if ns <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1fms", ns/1e6)
}
