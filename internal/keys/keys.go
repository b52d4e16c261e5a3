// Package keys contains keybinding definitions.
package keys

import "github.com/charmbracelet/bubbles/key"

// MonitorKeyMap defines the keybindings of the stage monitor.
type MonitorKeyMap struct {
	// Navigation
	Up     key.Binding
	Down   key.Binding
	Top    key.Binding
	Bottom key.Binding

	// Actions
	SwitchPane key.Binding
	Clear      key.Binding
	Refresh    key.Binding

	// General
	Help key.Binding
	Quit key.Binding
}

// DefaultMonitorKeyMap returns the default monitor keybindings.
func DefaultMonitorKeyMap() MonitorKeyMap {
	return MonitorKeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "bottom"),
		),

		SwitchPane: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "signals/logs"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear pane"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh stages"),
		),

		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Monitor is the keymap used by the monitor view.
var Monitor = DefaultMonitorKeyMap()

// ShortHelp returns keybindings for the short help view.
func (k MonitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SwitchPane, k.Clear, k.Help, k.Quit}
}

// FullHelp returns keybindings for the full help view.
func (k MonitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom},
		{k.SwitchPane, k.Clear, k.Refresh},
		{k.Help, k.Quit},
	}
}
