// internal/ui/models.go

package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"

	"sshm/internal/models"
)

// KeyMap definiuje skróty klawiszowe
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Enter   key.Binding
	Back    key.Binding
	Quit    key.Binding
	Delete  key.Binding
	Refresh key.Binding
	Yes     key.Binding
	No      key.Binding
}

// DefaultKeyMap zwraca domyślne ustawienia klawiszy
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter", "c"),
			key.WithHelp("enter/c", "connect"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d", "f8"),
			key.WithHelp("d/f8", "delete"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Yes: key.NewBinding(key.WithKeys("y", "Y")),
		No:  key.NewBinding(key.WithKeys("n", "N", "esc")),
	}
}

// Status reprezentuje komunikat w pasku statusu
type Status struct {
	Message string
	IsError bool
}

// Render zwraca komunikat w stylu zależnym od typu
func (s Status) Render() string {
	if s.Message == "" {
		return ""
	}
	if s.IsError {
		return ErrorStyle.Render(s.Message)
	}
	return SuccessStyle.Render(s.Message)
}

// HostItem to pozycja listy hostów
type HostItem struct {
	Host  models.Host
	group string
}

func (i HostItem) Title() string { return i.Host.DisplayName() }

func (i HostItem) Description() string {
	desc := fmt.Sprintf("[%s] %s", i.group, i.Host.String())
	if i.Host.JumpHost != nil {
		desc += " via " + i.Host.JumpHost.DisplayName()
	}
	return desc
}

func (i HostItem) FilterValue() string {
	return i.Host.DisplayName() + " " + i.group + " " + i.Host.Hostname
}

// HostItems spłaszcza pogrupowane profile do listy, grupa po grupie
func HostItems(groups []string, byGroup map[string][]models.Host) []list.Item {
	var items []list.Item
	for _, g := range groups {
		for _, h := range byGroup[g] {
			items = append(items, HostItem{Host: h, group: g})
		}
	}
	return items
}

// NewHostList tworzy listę bubbles dla hostów
func NewHostList(items []list.Item, width, height int) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(Highlight).BorderForeground(Border)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(Subtle).BorderForeground(Border)

	l := list.New(items, delegate, width, height)
	l.Title = "Available Hosts"
	l.Styles.Title = GroupStyle
	l.SetShowHelp(false)
	l.SetStatusBarItemName("host", "hosts")
	l.DisableQuitKeybindings()
	return l
}
