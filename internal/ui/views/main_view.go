// internal/ui/views/main_view.go

package views

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"sshm/internal/config"
	"sshm/internal/models"
	"sshm/internal/ssh"
	"sshm/internal/ui"
	"sshm/internal/ui/components"
	"sshm/internal/ui/messages"
)

const statusTimeout = 3 * time.Second

// HostSource to źródło profili dla pickera
type HostSource interface {
	Grouped() ([]string, map[string][]models.Host)
	DeleteHost(id string) error
	Load() error
}

var _ HostSource = (*config.Manager)(nil)

// MainView wyświetla pogrupowane profile i łączy się z wybranym
type MainView struct {
	ctx     context.Context
	hosts   HostSource
	connect ConnectFunc
	keys    ui.KeyMap
	list    list.Model

	width  int
	height int

	status     ui.Status
	popup      *components.Popup
	pending    *models.Host
	connecting bool
	quitting   bool

	selected *models.Host
	session  *ssh.Session
}

func NewMainView(ctx context.Context, hosts HostSource, connect ConnectFunc) *MainView {
	v := &MainView{
		ctx:     ctx,
		hosts:   hosts,
		connect: connect,
		keys:    ui.DefaultKeyMap(),
		width:   100,
		height:  30,
	}
	v.list = ui.NewHostList(v.items(), 45, 20)
	return v
}

func (v *MainView) items() []list.Item {
	groups, byGroup := v.hosts.Grouped()
	return ui.HostItems(groups, byGroup)
}

// Result zwraca wybrany profil i nawiązaną sesję; nil, gdy użytkownik wyszedł
func (v *MainView) Result() (*models.Host, *ssh.Session) {
	return v.selected, v.session
}

func (v *MainView) Init() tea.Cmd {
	return nil
}

func (v *MainView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width = msg.Width
		v.height = msg.Height
		layout := ui.NewBaseLayout(msg.Width, msg.Height)
		left, _ := layout.SplitView()
		v.list.SetSize(left.GetWidth(), layout.ContentHeight)
		return v, nil

	case messages.ConnectFinishedMsg:
		v.connecting = false
		v.popup = nil
		if msg.Err != nil {
			v.status = ui.Status{Message: "Failed to connect", IsError: true}
			v.popup = components.NewPopup(components.PopupError, "Connection failed",
				msg.Err.Error(), 60, 9, v.width, v.height)
			return v, nil
		}
		v.selected = msg.Host
		v.session = msg.Session
		v.quitting = true
		return v, tea.Quit

	case messages.HostDeletedMsg:
		if msg.Err != nil {
			v.status = ui.Status{Message: fmt.Sprintf("Failed to delete %s: %v", msg.Name, msg.Err), IsError: true}
			return v, nil
		}
		v.status = ui.Status{Message: fmt.Sprintf("Host %s deleted", msg.Name)}
		return v, tea.Batch(v.list.SetItems(v.items()), clearStatusAfter(statusTimeout))

	case messages.AutoCloseMsg:
		v.status = ui.Status{}
		return v, nil

	case messages.ReloadHostsMsg:
		if err := v.hosts.Load(); err != nil {
			v.status = ui.Status{Message: err.Error(), IsError: true}
			return v, nil
		}
		v.status = ui.Status{Message: "Hosts reloaded"}
		return v, tea.Batch(v.list.SetItems(v.items()), clearStatusAfter(statusTimeout))

	case tea.KeyMsg:
		if v.popup != nil {
			return v.handlePopupKey(msg)
		}
		if v.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, v.keys.Quit):
			v.quitting = true
			return v, tea.Quit
		case key.Matches(msg, v.keys.Enter):
			return v.handleConnect()
		case key.Matches(msg, v.keys.Delete):
			return v.handleDelete()
		case key.Matches(msg, v.keys.Refresh):
			return v, func() tea.Msg { return messages.ReloadHostsMsg{} }
		}
	}

	var cmd tea.Cmd
	v.list, cmd = v.list.Update(msg)
	return v, cmd
}

func (v *MainView) selectedHost() (models.Host, bool) {
	item, ok := v.list.SelectedItem().(ui.HostItem)
	if !ok {
		return models.Host{}, false
	}
	return item.Host, true
}

func (v *MainView) handleConnect() (tea.Model, tea.Cmd) {
	host, ok := v.selectedHost()
	if !ok {
		v.popup = components.NewPopup(components.PopupMessage, "No hosts",
			"No hosts configured.\nUse 'sshm add' or 'sshm import-ssh-config'.", 60, 8, v.width, v.height)
		return v, nil
	}
	if v.connecting {
		return v, nil
	}
	v.connecting = true
	v.status = ui.Status{}
	v.popup = components.NewPopup(components.PopupProgress, "SSH",
		"Connecting to "+host.DisplayName()+"...", 50, 7, v.width, v.height)
	return v, connectCmd(v.ctx, v.connect, host)
}

func (v *MainView) handleDelete() (tea.Model, tea.Cmd) {
	host, ok := v.selectedHost()
	if !ok {
		return v, nil
	}
	v.pending = &host
	v.popup = components.NewPopup(components.PopupDelete, "Delete Host",
		fmt.Sprintf("Delete host %s (%s)?", host.DisplayName(), host.String()), 60, 8, v.width, v.height)
	return v, nil
}

func (v *MainView) handlePopupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch v.popup.Type {
	case components.PopupProgress:
		// łączenie można tylko przerwać wyjściem z programu
		if msg.String() == "ctrl+c" {
			v.quitting = true
			return v, tea.Quit
		}
	case components.PopupDelete:
		switch {
		case key.Matches(msg, v.keys.Yes):
			host := *v.pending
			v.popup, v.pending = nil, nil
			return v, deleteCmd(v.hosts.DeleteHost, host)
		case key.Matches(msg, v.keys.No):
			v.popup, v.pending = nil, nil
		}
	default:
		if msg.Type == tea.KeyEsc || msg.Type == tea.KeyEnter {
			v.popup = nil
		}
	}
	return v, nil
}

func (v *MainView) View() string {
	if v.quitting {
		return ""
	}
	if v.popup != nil {
		return v.popup.Render()
	}

	layout := ui.NewBaseLayout(v.width, v.height)
	left, right := layout.SplitView()

	var content strings.Builder
	content.WriteString(ui.TitleStyle.Render("sshm ❯ remote sessions") + "\n\n")
	content.WriteString(lipgloss.JoinHorizontal(
		lipgloss.Top,
		left.Render(v.list.View()),
		"  ",
		right.Render(v.renderDetails()),
	))
	content.WriteString("\n" + v.renderStatusBar())

	return ui.WindowStyle.Render(content.String())
}

func (v *MainView) renderDetails() string {
	var content strings.Builder
	content.WriteString(ui.GroupStyle.Render("Host Details") + "\n")

	host, ok := v.selectedHost()
	if !ok {
		content.WriteString(ui.DescriptionStyle.Render("\nNo hosts available\nUse `sshm add` or `sshm import-ssh-config`"))
		return content.String()
	}

	row := func(label, value string) {
		if value == "" {
			return
		}
		content.WriteString(fmt.Sprintf("\n%s %s", ui.LabelStyle.Render(label), ui.Infotext.Render(value)))
	}
	content.WriteString("\n" + ui.SelectedItemStyle.Render(host.DisplayName()) + " " + ui.HostStyle.Render(host.String()) + "\n")
	row("Name:", host.DisplayName())
	row("Group:", host.Group)
	row("Description:", host.Description)
	row("Login:", host.Username)
	row("Address:", host.Hostname)
	row("Port:", strconv.Itoa(host.Port))
	row("Auth:", host.AuthStrategy().String())
	for hop := host.JumpHost; hop != nil; hop = hop.JumpHost {
		row("Via:", hop.String())
	}
	for _, fw := range host.Forwards {
		row("Forward:", fw.String())
	}
	return content.String()
}

func (v *MainView) renderStatusBar() string {
	status := v.status.Render()
	if status == "" {
		status = ui.DescriptionStyle.Render(fmt.Sprintf("%d hosts", len(v.list.Items())))
	}

	headers := []string{"Connect", "Navigate", "Filter", "Delete", "Refresh", "Quit"}
	shortcuts := []string{"enter/c", "↑↓/j/k", "/", "d/f8", "r", "q/^c"}

	cmdTable := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ui.Subtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 { // Nagłówki
				return lipgloss.NewStyle().Padding(0, 1).Foreground(ui.Subtle).Align(lipgloss.Center)
			}
			return lipgloss.NewStyle().Padding(0, 1).Foreground(ui.Special)
		}).
		Headers(headers...).
		Row(shortcuts...)

	return lipgloss.JoinVertical(lipgloss.Left, status, cmdTable.Render())
}

// RunPicker uruchamia picker hostów i zwraca wybór użytkownika
func RunPicker(ctx context.Context, hosts HostSource, connect ConnectFunc, opts ...tea.ProgramOption) (*models.Host, *ssh.Session, error) {
	view := NewMainView(ctx, hosts, connect)
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)

	final, err := tea.NewProgram(view, opts...).Run()
	if err != nil {
		return nil, nil, err
	}
	host, session := final.(*MainView).Result()
	return host, session, nil
}
