package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ReOpsIL/forge-sub000/internal/dashboard"
)

// Run starts the interactive dashboard and blocks until the user quits.
func Run(sess *dashboard.Session, opts Options) error {
	applyColorProfilePreference()
	applyThemePreference()

	// Dropped events are harmless: each sync reads the whole session state.
	changes := make(chan dashboard.Event, 64)
	sess.OnChange(func(ev dashboard.Event) {
		select {
		case changes <- ev:
		default:
		}
	})

	m := newAppModel(sess, changes, opts)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
