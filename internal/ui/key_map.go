package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds every binding the TUI reacts to. Which ones are live depends on the current [ViewState].
type keyMap struct {
	toggle  key.Binding
	enter   key.Binding
	back    key.Binding
	yes     key.Binding
	no      key.Binding
	pause   key.Binding
	cancel  key.Binding
	restart key.Binding
	quit    key.Binding
}

func binding(help string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(keys[0], help))
}

func newKeyMap() keyMap {
	k := keyMap{
		toggle:  binding("select", " "),
		enter:   binding("continue", "enter"),
		back:    binding("back", "esc"),
		yes:     binding("yes", "y"),
		no:      binding("no", "n"),
		pause:   binding("pause/resume", "p"),
		cancel:  binding("cancel campaign", "c"),
		restart: binding("new campaign", "r"),
		quit:    binding("quit", "q", "ctrl+c"),
	}
	k.toggle.SetHelp("space", "select")
	return k
}

// hints lists the bindings shown in the help line of view v.
func (k keyMap) hints(v ViewState) []key.Binding {
	switch v {
	case ContactsView:
		return []key.Binding{k.toggle, k.enter, k.quit}
	case ComposeView:
		return []key.Binding{k.enter, k.back}
	case ConfirmView:
		return []key.Binding{k.yes, k.no}
	case MonitorView:
		return []key.Binding{k.pause, k.cancel, k.quit}
	case ResultView:
		return []key.Binding{k.restart, k.quit}
	}
	return nil
}
