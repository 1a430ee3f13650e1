package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	prev    key.Binding
	next    key.Binding
	pick    key.Binding
	toggle  key.Binding
	refresh key.Binding
	pumpOn  key.Binding
	pumpOff key.Binding
	auto    key.Binding
	logout  key.Binding
	help    key.Binding
	quit    key.Binding

	// login form
	focusNext key.Binding
	focusPrev key.Binding
	submit    key.Binding
	mode      key.Binding
	exit      key.Binding

	// device picker
	choose key.Binding
	back   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		prev:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev device")),
		next:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next device")),
		pick:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "devices")),
		toggle:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "auto refresh")),
		refresh: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "refresh now")),
		pumpOn:  key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "pump on")),
		pumpOff: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "pump off")),
		auto:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto control")),
		logout:  key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "logout")),
		help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),

		focusNext: key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "next field")),
		focusPrev: key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "prev field")),
		submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
		mode:      key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "login/sign up")),
		exit:      key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),

		choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.prev, k.next, k.toggle, k.pumpOn, k.pumpOff, k.help, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.prev, k.next, k.pick},
		{k.toggle, k.refresh},
		{k.pumpOn, k.pumpOff, k.auto},
		{k.logout, k.help, k.quit},
	}
}

func (k keyMap) formHelp() []key.Binding {
	return []key.Binding{k.focusNext, k.submit, k.mode, k.exit}
}

func (k keyMap) pickerHelp() []key.Binding {
	return []key.Binding{k.choose, k.back}
}
