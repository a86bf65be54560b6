// internal/ui/components/popup.go

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sshm/internal/ui"
)

type PopupType int

const (
	PopupNone PopupType = iota
	PopupDelete
	PopupMessage
	PopupError
	PopupProgress
)

// Popup to okno dialogowe rysowane na środku ekranu
type Popup struct {
	Type         PopupType
	Title        string
	Message      string
	Width        int
	Height       int
	ScreenWidth  int
	ScreenHeight int
}

func NewPopup(popupType PopupType, title, message string, width, height, screenWidth, screenHeight int) *Popup {
	return &Popup{
		Type:         popupType,
		Title:        title,
		Message:      message,
		Width:        width,
		Height:       height,
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
	}
}

// Keys zwraca opis klawiszy obsługiwanych przez popup
func (p *Popup) Keys() string {
	switch p.Type {
	case PopupDelete:
		return "y - Yes, n - No"
	case PopupProgress:
		return "please wait..."
	default:
		return "ESC/ENTER - Close"
	}
}

func (p *Popup) Render() string {
	border := ui.Border
	if p.Type == PopupError {
		border = ui.Error
	}
	popupStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(1, 2).
		Width(p.Width).
		Height(p.Height)

	titleStyle := ui.TitleStyle.
		Align(lipgloss.Center).
		Width(p.Width - 4)

	var content strings.Builder
	content.WriteString(titleStyle.Render(p.Title) + "\n\n")
	if p.Type == PopupError {
		content.WriteString(ui.ErrorStyle.Render(p.Message) + "\n")
	} else {
		content.WriteString(p.Message + "\n")
	}
	content.WriteString("\n" + ui.DescriptionStyle.Render(p.Keys()))

	// Wyśrodkowanie popupu na ekranie
	return lipgloss.Place(
		p.ScreenWidth,
		p.ScreenHeight,
		lipgloss.Center,
		lipgloss.Center,
		popupStyle.Render(content.String()),
		lipgloss.WithWhitespaceForeground(lipgloss.Color("0")),
	)
}
