// Package monitor renders a terminal dashboard over the runs directory:
// every run's state and cost, live-updating as engines write artifacts. It
// reads the same store the results API serves; it never writes.
package monitor

import (
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxVisibleRuns  = 12
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	completeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	abortedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	escalatedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Snapshot is one refresh of the runs directory.
type Snapshot struct {
	Runs        []artifact.RunSummary
	TotalTokens int
	TotalUSD    float64
	Completed   int
	Aborted     int
	Escalated   int
}

// Model is the bubbletea dashboard model.
type Model struct {
	store      *artifact.Store
	interval   time.Duration
	changes    <-chan struct{}
	budgetUSD  float64
	lastUpdate time.Time
	snapshot   Snapshot
	history    []float64 // total tokens over refreshes
	err        error
	quitting   bool

	spendProgress progress.Model
}

// NewModel builds the dashboard over an opened store. The changes channel,
// when non-nil, triggers refreshes between ticks; the watcher feeds it.
func NewModel(store *artifact.Store, interval time.Duration, budgetUSD float64, changes <-chan struct{}) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		store:     store,
		interval:  interval,
		changes:   changes,
		budgetUSD: budgetUSD,
		history:   make([]float64, 0, historySize),
		spendProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
	}
}

type tickMsg time.Time
type snapshotMsg Snapshot
type changeMsg struct{}
type errMsg error

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick(m.interval), m.loadSnapshot()}
	if m.changes != nil {
		cmds = append(cmds, waitForChange(m.changes))
	}
	return tea.Batch(cmds...)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changeMsg{}
	}
}

func (m Model) loadSnapshot() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		summaries, err := store.Summarize()
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(BuildSnapshot(summaries))
	}
}

// BuildSnapshot aggregates run summaries into dashboard totals.
func BuildSnapshot(summaries []artifact.RunSummary) Snapshot {
	snap := Snapshot{Runs: summaries}
	for _, s := range summaries {
		snap.TotalTokens += s.Tokens
		snap.TotalUSD += s.USD
		switch s.State {
		case string(pipeline.StateComplete):
			snap.Completed++
		case string(pipeline.StateAborted):
			snap.Aborted++
		case string(pipeline.StateEscalated):
			snap.Escalated++
		}
	}
	return snap
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.loadSnapshot()
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), m.loadSnapshot())

	case changeMsg:
		return m, tea.Batch(m.loadSnapshot(), waitForChange(m.changes))

	case snapshotMsg:
		m.snapshot = Snapshot(msg)
		m.history = appendToHistory(m.history, float64(m.snapshot.TotalTokens))
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}
	return m, nil
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

func stateBadge(state string) string {
	switch state {
	case string(pipeline.StateComplete):
		return completeStyle.Render("✓ " + state)
	case string(pipeline.StateAborted):
		return abortedStyle.Render("⚠ " + state)
	case string(pipeline.StateEscalated):
		return escalatedStyle.Render("✗ " + state)
	default:
		return runningStyle.Render("… " + state)
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var content string
	content += headerStyle.Render(" patchsmith monitor ") + "\n\n"
	content += escalatedStyle.Render("⚠ Cannot read runs directory") + "\n\n"
	content += dimStyle.Render("Error: ") + escalatedStyle.Render(m.err.Error()) + "\n\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"
	return containerStyle.Render(content)
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("15:04:05")
	}
	content += headerStyle.Render(" patchsmith monitor ") + "   " + dimStyle.Render("updated "+lastUpdateStr) + "\n"

	snap := m.snapshot
	content += "\n" + sectionStyle.Render("┃ Totals") + "\n"
	content += labelStyle.Render("  Runs: ") + valueStyle.Render(fmt.Sprintf("%d", len(snap.Runs))) +
		"  " + completeStyle.Render(fmt.Sprintf("%d complete", snap.Completed)) +
		"  " + abortedStyle.Render(fmt.Sprintf("%d aborted", snap.Aborted)) +
		"  " + escalatedStyle.Render(fmt.Sprintf("%d escalated", snap.Escalated)) + "\n"
	content += labelStyle.Render("  Tokens: ") + valueStyle.Render(fmt.Sprintf("%d", snap.TotalTokens)) +
		"   " + createSparkline(m.history) + "\n"

	content += labelStyle.Render("  Spend: ") + valueStyle.Render(fmt.Sprintf("$%.4f", snap.TotalUSD))
	if m.budgetUSD > 0 {
		pct := snap.TotalUSD / m.budgetUSD
		if pct > 1 {
			pct = 1
		}
		content += "  " + m.spendProgress.ViewAs(pct) + " " + dimStyle.Render(fmt.Sprintf("%.0f%% of budget", pct*100))
	}
	content += "\n"

	content += "\n" + sectionStyle.Render("┃ Runs") + "\n"
	runs := snap.Runs
	if len(runs) > maxVisibleRuns {
		runs = runs[len(runs)-maxVisibleRuns:]
	}
	if len(runs) == 0 {
		content += dimStyle.Render("  no runs yet") + "\n"
	}
	for _, r := range runs {
		content += fmt.Sprintf("  %s  %s  %s  %s\n",
			valueStyle.Render(fmt.Sprintf("%-16s", r.ID)),
			dimStyle.Render(fmt.Sprintf("%-24s", r.Issue)),
			stateBadge(r.State),
			dimStyle.Render(fmt.Sprintf("%d tok  $%.4f", r.Tokens, r.USD)))
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}
