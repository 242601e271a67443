package admintui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/olla-project/inforoute/internal/core/ports"
)

// Run blocks until the operator quits the console.
func Run(fault ports.FaultDomainManager, health ports.HealthMonitor, breaker ports.Breaker, registry ports.ModelRegistry) error {
	p := tea.NewProgram(New(fault, health, breaker, registry), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
