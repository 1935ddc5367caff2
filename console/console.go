// Package console implements the read-only rehearsal status view: a
// bubbletea program that polls the running engine once per tick and
// renders Score-Follower loc, active fragment, active outlet, and
// armed Multi-Player labels.
//
// Grounded on the teacher's display/tui.go: the tick-driven Update/View
// split, its style-variable block, and its q/ctrl+c/esc quit handling,
// adapted from a chord-chart/tablature renderer to a status board over
// a StatusProvider the host implements.
package console

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#00FFFF")
	accentColor  = lipgloss.Color("#00FF00")
	dimColor     = lipgloss.Color("#666666")
	warnColor    = lipgloss.Color("#FF6666")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	labelStyle = lipgloss.NewStyle().Foreground(dimColor)
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	armedStyle = lipgloss.NewStyle().Foreground(accentColor)
	idleStyle  = lipgloss.NewStyle().Foreground(dimColor)
	warnStyle  = lipgloss.NewStyle().Foreground(warnColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// PlayerStatus is one row of the armed-players panel.
type PlayerStatus struct {
	Label string
	Armed bool
}

// Status is a single snapshot of the running engine, polled once per
// tick. The host's StatusProvider is the only producer; console never
// reaches into component internals itself (spec §1 non-goal: the
// console is ambient dev tooling, not a performance-time collaborator).
type Status struct {
	Loc          uint32
	Meas         uint32
	MatchN       uint
	SpuriousN    uint
	ActiveOutlet string
	OutletAOK    bool
	OutletBOK    bool
	FragID       uint32
	HaveFrag     bool
	PlayerState  string
	Players      []PlayerStatus
}

// StatusProvider is polled once per tick; it must not block.
type StatusProvider interface {
	Status() Status
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the bubbletea model for the rehearsal console.
type Model struct {
	provider StatusProvider
	last     Status
	quitting bool
	width    int
}

// New builds a console Model polling provider.
func New(provider StatusProvider) *Model {
	return &Model{provider: provider, width: 80}
}

func (m *Model) Init() tea.Cmd {
	return tickCmd()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		m.last = m.provider.Status()
		return m, tickCmd()
	}
	return m, nil
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("rehearsal console") + "\n\n")

	s := m.last
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("loc"), valueStyle.Render(fmt.Sprintf("%d", s.Loc)),
		labelStyle.Render("meas"), valueStyle.Render(fmt.Sprintf("%d", s.Meas))))
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("matched"), valueStyle.Render(fmt.Sprintf("%d", s.MatchN)),
		labelStyle.Render("spurious"), warnStyle.Render(fmt.Sprintf("%d", s.SpuriousN))))

	outletLine := fmt.Sprintf("%s active=%s  a=%s  b=%s",
		labelStyle.Render("sf"), valueStyle.Render(s.ActiveOutlet),
		onOff(s.OutletAOK), onOff(s.OutletBOK))
	b.WriteString(outletLine + "\n")

	fragLine := labelStyle.Render("fragment") + " "
	if s.HaveFrag {
		fragLine += valueStyle.Render(fmt.Sprintf("%d", s.FragID))
	} else {
		fragLine += idleStyle.Render("none")
	}
	b.WriteString(fragLine + "\n\n")

	b.WriteString(labelStyle.Render("players") + "\n")
	for _, p := range s.Players {
		marker := idleStyle.Render("idle")
		if p.Armed {
			marker = armedStyle.Render("armed")
		}
		b.WriteString(fmt.Sprintf("  %-16s %s\n", p.Label, marker))
	}

	b.WriteString("\n" + labelStyle.Render("q/esc to quit"))
	return panelStyle.Width(m.width - 4).Render(b.String())
}

func onOff(ok bool) string {
	if ok {
		return armedStyle.Render("on")
	}
	return idleStyle.Render("off")
}
