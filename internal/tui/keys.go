package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit        key.Binding
	SwitchPane  key.Binding
	Open        key.Binding
	Back        key.Binding
	Refresh     key.Binding
	RefreshAll  key.Binding
	Execute     key.Binding
	ExecuteDeps key.Binding
	Stop        key.Binding
	Add         key.Binding
	Edit        key.Binding
	Delete      key.Binding
	Enhance     key.Binding
	Generate    key.Binding
	Help        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		SwitchPane:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		Open:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open/expand")),
		Back:        key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Refresh:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		RefreshAll:  key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "refresh all (re-sort)")),
		Execute:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "execute")),
		ExecuteDeps: key.NewBinding(key.WithKeys("X"), key.WithHelp("X", "execute with deps")),
		Stop:        key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop watching")),
		Add:         key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add task")),
		Edit:        key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "rename task")),
		Delete:      key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete task")),
		Enhance:     key.NewBinding(key.WithKeys("E"), key.WithHelp("E", "enhance block")),
		Generate:    key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "generate tasks")),
		Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Open, k.Execute, k.Stop, k.Refresh, k.Add, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SwitchPane, k.Open, k.Back, k.Refresh, k.RefreshAll},
		{k.Execute, k.ExecuteDeps, k.Stop},
		{k.Add, k.Edit, k.Delete, k.Enhance, k.Generate},
		{k.Help, k.Quit},
	}
}
