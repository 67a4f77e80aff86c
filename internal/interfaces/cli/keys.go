package cli

import "github.com/charmbracelet/bubbles/key"

// dashboardKeys are the key bindings of the watch dashboard
type dashboardKeys struct {
	Pause       key.Binding
	Camera      key.Binding
	ClearFilter key.Binding
	AckAll      key.Binding
	More        key.Binding
	Reconnect   key.Binding
	Help        key.Binding
	Quit        key.Binding
}

var defaultDashboardKeys = dashboardKeys{
	Pause: key.NewBinding(
		key.WithKeys(" "),
		key.WithHelp("space", "pause"),
	),
	Camera: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "camera"),
	),
	ClearFilter: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "clear filter"),
	),
	AckAll: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "ack all"),
	),
	More: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "more events"),
	),
	Reconnect: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reconnect"),
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

// ShortHelp implements help.KeyMap
func (k dashboardKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Camera, k.AckAll, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k dashboardKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Pause, k.Reconnect, k.Quit},
		{k.Camera, k.ClearFilter},
		{k.AckAll, k.More, k.Help},
	}
}
