package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/sampler"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const historyLen = 120

var monitorPhases = []dynamo.Phase{dynamo.Minimizing, dynamo.Equilibrating, dynamo.Producing}

type rowMsg sampler.Row

type doneMsg struct{ err error }

// Monitor shows thermo rows of a running experiment. It is a row sink: rows
// are handed over without blocking and dropped when the display lags.
type Monitor struct {
	rows    chan sampler.Row
	done    chan error
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool

	title  string
	cancel context.CancelFunc
}

// NewMonitor buffers up to buffer rows. cancel, if set, is called when the
// user quits the display.
func NewMonitor(title string, buffer int, cancel context.CancelFunc) *Monitor {
	if buffer < 1 {
		buffer = 1
	}
	return &Monitor{
		rows:   make(chan sampler.Row, buffer),
		done:   make(chan error, 1),
		title:  title,
		cancel: cancel,
	}
}

func (m *Monitor) Record(r sampler.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	select {
	case m.rows <- r:
	default:
		m.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many rows never reached the display.
func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

// Finish ends the row stream with the outcome of the run. Later calls and
// later rows are ignored.
func (m *Monitor) Finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.done <- err
	close(m.rows)
}

// Run drives the display until Finish is called and every buffered row is
// shown, or the user quits.
func (m *Monitor) Run(ctx context.Context) error {
	p := tea.NewProgram(m.model(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Monitor) model() model {
	return model{
		title:    m.title,
		rows:     m.rows,
		done:     m.done,
		cancel:   m.cancel,
		dropped:  &m.dropped,
		progress: make(map[dynamo.Phase]float64),
		width:    80,
	}
}

type model struct {
	title  string
	rows   <-chan sampler.Row
	done   <-chan error
	cancel context.CancelFunc

	dropped *atomic.Int64

	last     sampler.Row
	seen     bool
	progress map[dynamo.Phase]float64
	temps    []float64
	pes      []float64

	finished bool
	err      error
	width    int
}

func (m model) Init() tea.Cmd { return waitForRow(m.rows, m.done) }

func waitForRow(rows <-chan sampler.Row, done <-chan error) tea.Cmd {
	return func() tea.Msg {
		r, ok := <-rows
		if !ok {
			return doneMsg{err: <-done}
		}
		return rowMsg(r)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case rowMsg:
		m = m.observe(sampler.Row(msg))
		return m, waitForRow(m.rows, m.done)
	case doneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) observe(r sampler.Row) model {
	m.last = r
	m.seen = true
	if p, err := dynamo.ParsePhase(r.Phase); err == nil {
		frac := 1.0
		if r.PhaseSteps > 0 {
			frac = math.Min(float64(r.PhaseStep)/float64(r.PhaseSteps), 1)
		}
		m.progress[p] = frac
		for _, q := range monitorPhases {
			if q < p {
				m.progress[q] = 1
			}
		}
	}
	if r.Phase != dynamo.Minimizing.String() {
		m.temps = pushBounded(m.temps, r.Temp)
	}
	m.pes = pushBounded(m.pes, r.PE)
	return m
}

func pushBounded(xs []float64, v float64) []float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return xs
	}
	xs = append(xs, v)
	if len(xs) > historyLen {
		xs = xs[len(xs)-historyLen:]
	}
	return xs
}

func (m model) View() string {
	var b strings.Builder

	icon, status := green.Render("●"), green.Render("running")
	switch {
	case m.finished && m.err != nil:
		icon, status = red.Render("●"), red.Render("failed")
	case m.finished:
		icon, status = cyan.Render("●"), cyan.Render("finished")
	case !m.seen:
		icon, status = yellow.Render("○"), yellow.Render("starting")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n\n", icon, cyan.Render(m.title), status))

	barWidth := 36
	for _, p := range monitorPhases {
		frac := m.progress[p]
		filled := int(frac * float64(barWidth))
		bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
		name := dim.Render(fmt.Sprintf("%-13s", p))
		if m.seen && m.last.Phase == p.String() {
			name = white.Render(fmt.Sprintf("%-13s", p))
		}
		b.WriteString(fmt.Sprintf("   %s %s %s\n", name, bar, dim.Render(fmt.Sprintf("%3.0f%%", 100*frac))))
	}

	if m.seen {
		r := m.last
		b.WriteString(fmt.Sprintf("\n   %s %s  %s %s  %s %s\n",
			dim.Render("step"), white.Render(fmt.Sprintf("%d", r.Step)),
			dim.Render("time"), white.Render(fmt.Sprintf("%.3f", r.Time)),
			dim.Render("press"), white.Render(fmt.Sprintf("%.4f", r.Press))))
		b.WriteString(fmt.Sprintf("   %s %s  %s %s  %s %s  %s %s\n",
			green.Render("T"), fmt.Sprintf("%.4f", r.Temp),
			yellow.Render("PE"), fmt.Sprintf("%.4f", r.PE),
			magenta.Render("KE"), fmt.Sprintf("%.4f", r.KE),
			cyan.Render("E"), fmt.Sprintf("%.4f", r.Etot)))
	}

	w := m.width - 16
	if w < 20 {
		w = 20
	}
	if len(m.temps) > 1 {
		graph := asciigraph.Plot(m.temps,
			asciigraph.Height(8),
			asciigraph.Width(w),
			asciigraph.Offset(3),
			asciigraph.Caption("temperature"))
		b.WriteString("\n" + indent(graph, "   ") + "\n")
	}
	if len(m.pes) > 1 {
		graph := asciigraph.Plot(m.pes,
			asciigraph.Height(5),
			asciigraph.Width(w),
			asciigraph.Offset(3),
			asciigraph.Caption("potential energy"))
		b.WriteString("\n" + indent(graph, "   ") + "\n")
	}

	if n := m.dropped.Load(); n > 0 {
		b.WriteString("\n   " + dim.Render(fmt.Sprintf("%d rows not shown", n)) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   q stop run") + "\n")
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
