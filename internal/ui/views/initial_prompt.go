// internal/ui/views/initial_prompt.go

package views

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sshm/internal/ui"
	"sshm/internal/ui/messages"
)

// VaultPromptModel pyta o hasło do sejfu z poświadczeniami
type VaultPromptModel struct {
	input         textinput.Model
	vaultPath     string
	errorMessage  string
	password      string
	cancelled     bool
	width, height int
}

func NewVaultPromptModel(vaultPath string) *VaultPromptModel {
	input := textinput.New()
	input.Placeholder = "vault password"
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '*'
	input.Focus()

	return &VaultPromptModel{
		input:     input,
		vaultPath: vaultPath,
	}
}

func (m *VaultPromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *VaultPromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case messages.PasswordEnteredMsg:
		m.password = string(msg)
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			if m.input.Value() == "" {
				m.errorMessage = "Password cannot be empty"
				return m, nil
			}
			value := m.input.Value()
			return m, func() tea.Msg { return messages.PasswordEnteredMsg(value) }
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Password zwraca wpisane hasło; ok == false, gdy użytkownik przerwał
func (m *VaultPromptModel) Password() (string, bool) {
	return m.password, !m.cancelled && m.password != ""
}

func (m *VaultPromptModel) View() string {
	if m.password != "" || m.cancelled {
		return ""
	}

	infoStyle := lipgloss.NewStyle().
		Foreground(ui.Subtle).
		Italic(true)

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		ui.TitleStyle.Render("sshm"),
		"",
		infoStyle.Render("Unlocking credential vault: "+m.vaultPath),
		"",
		m.input.View(),
	)
	if m.errorMessage != "" {
		content += "\n" + ui.ErrorStyle.Render(m.errorMessage)
	}

	framed := ui.WindowStyle.Render(content)
	if m.width == 0 || m.height == 0 {
		return framed
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, framed)
}

// PromptVaultPassword uruchamia prompt i zwraca hasło
func PromptVaultPassword(vaultPath string, opts ...tea.ProgramOption) (string, bool, error) {
	final, err := tea.NewProgram(NewVaultPromptModel(vaultPath), opts...).Run()
	if err != nil {
		return "", false, err
	}
	password, ok := final.(*VaultPromptModel).Password()
	return password, ok, nil
}
