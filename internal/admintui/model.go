// Package admintui is the interactive operator console: a small
// bubbletea program that toggles the kill switch, the degradation
// level, and per-upstream isolation against a running process,
// mirroring the admin calls named in spec.md §4.6 as a terminal UI
// instead of an HTTP call.
package admintui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
)

var degradationOrder = []domain.DegradationLevel{
	domain.DegradationNone,
	domain.DegradationPartial,
	domain.DegradationFull,
	domain.DegradationEmergency,
}

// upstreamItem adapts one registered upstream to bubbles/list.Item.
type upstreamItem struct {
	up       domain.Upstream
	status   domain.HealthStatus
	breaker  ports.BreakerState
	isolated bool
}

func (i upstreamItem) FilterValue() string { return i.up.Key() }

func (i upstreamItem) Title() string {
	marker := " "
	if i.isolated {
		marker = "I"
	}
	return fmt.Sprintf("[%s] %s", marker, i.up.String())
}

func (i upstreamItem) Description() string {
	return fmt.Sprintf("status=%s breaker=%s", i.status, i.breaker)
}

// Model is the bubbletea program state. It polls the Fault Domain
// Manager, Health Monitor and Breaker on a tick so the list stays
// current without the operator needing to refresh manually.
type Model struct {
	fault    ports.FaultDomainManager
	health   ports.HealthMonitor
	breaker  ports.Breaker
	registry ports.ModelRegistry

	list   list.Model
	styles styles
	width  int
	height int
	status string
}

type styles struct {
	title     lipgloss.Style
	statusBar lipgloss.Style
	danger    lipgloss.Style
	good      lipgloss.Style
	help      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		statusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		danger:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		good:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		help:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

// New builds a Model wired against the live fault manager, health
// monitor, breaker and registry of a running process.
func New(fault ports.FaultDomainManager, health ports.HealthMonitor, breaker ports.Breaker, registry ports.ModelRegistry) Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Upstreams"
	l.SetShowHelp(false)

	m := Model{
		fault:    fault,
		health:   health,
		breaker:  breaker,
		registry: registry,
		list:     l,
		styles:   defaultStyles(),
	}
	m.refreshItems()
	return m
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m *Model) refreshItems() {
	entries := m.registry.All()
	seen := make(map[string]struct{}, len(entries))
	items := make([]list.Item, 0, len(entries))
	for _, e := range entries {
		up := e.Upstream()
		if _, ok := seen[up.Key()]; ok {
			continue
		}
		seen[up.Key()] = struct{}{}
		h, _ := m.health.Get(up)
		items = append(items, upstreamItem{
			up:       up,
			status:   h.Status,
			breaker:  m.breaker.State(up),
			isolated: m.fault.IsIsolated(up),
		})
	}
	m.list.SetItems(items)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight := 5
		m.list.SetSize(msg.Width, msg.Height-headerHeight)
		return m, nil

	case tickMsg:
		m.refreshItems()
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "k":
			m.fault.SetKillSwitch(!m.fault.KillSwitchEnabled())
			m.status = fmt.Sprintf("kill switch -> %v", m.fault.KillSwitchEnabled())
			return m, nil
		case "1", "2", "3", "4":
			idx := int(msg.String()[0] - '1')
			m.fault.SetDegradationLevel(degradationOrder[idx])
			m.status = fmt.Sprintf("degradation level -> %s", degradationOrder[idx])
			return m, nil
		case "i":
			if it, ok := m.list.SelectedItem().(upstreamItem); ok {
				if it.isolated {
					m.fault.Unisolate(it.up)
					m.status = fmt.Sprintf("unisolated %s", it.up)
				} else {
					m.fault.Isolate(it.up)
					m.status = fmt.Sprintf("isolated %s", it.up)
				}
				m.refreshItems()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	killLine := m.styles.good.Render("kill switch: off")
	if m.fault.KillSwitchEnabled() {
		killLine = m.styles.danger.Render("kill switch: ON")
	}

	header := fmt.Sprintf(
		"%s\n%s  degradation=%s\n%s\n",
		m.styles.title.Render("inforoute admin console"),
		killLine,
		m.fault.DegradationLevel(),
		m.styles.help.Render("k: toggle kill switch  1-4: degradation none/partial/full/emergency  i: isolate/unisolate  q: quit"),
	)

	footer := ""
	if m.status != "" {
		footer = "\n" + m.styles.statusBar.Render(m.status)
	}

	return header + m.list.View() + footer
}
