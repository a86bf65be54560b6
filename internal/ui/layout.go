// internal/ui/layout.go

package ui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"sshm/internal/models"
)

// BaseLayout zawiera podstawowe wymiary widoku
type BaseLayout struct {
	Width         int
	Height        int
	HeaderHeight  int
	FooterHeight  int
	ContentHeight int
}

// NewBaseLayout tworzy nowy podstawowy layout
func NewBaseLayout(width, height int) BaseLayout {
	const (
		headerHeight = 3
		footerHeight = 5
	)

	content := height - headerHeight - footerHeight
	if content < 3 {
		content = 3
	}
	return BaseLayout{
		Width:         width,
		Height:        height,
		HeaderHeight:  headerHeight,
		FooterHeight:  footerHeight,
		ContentHeight: content,
	}
}

// SplitView zwraca style dla panelu listy i panelu szczegółów
func (l BaseLayout) SplitView() (left, right lipgloss.Style) {
	panelWidth := (l.Width - 10) / 2 // separator i ramki
	if panelWidth < 20 {
		panelWidth = 20
	}

	left = PanelStyle.Width(panelWidth).Height(l.ContentHeight)
	right = PanelStyle.Width(panelWidth).Height(l.ContentHeight)
	return left, right
}

// CreateLipglossTable tworzy tabelę lipgloss z odpowiednimi stylami
func CreateLipglossTable(headers []string, rows [][]string) string {
	tableStyle := func(row, col int) lipgloss.Style {
		switch {
		case row == -1: // Nagłówki
			return lipgloss.NewStyle().
				Padding(0, 1).
				Foreground(Highlight).
				Bold(true)
		default:
			return lipgloss.NewStyle().
				Padding(0, 1)
		}
	}

	return ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Border)).
		StyleFunc(tableStyle).
		Headers(headers...).
		Rows(rows...).
		Render()
}

// HostTable renderuje listę profili dla polecenia list
func HostTable(hosts []models.Host) string {
	rows := make([][]string, 0, len(hosts))
	for _, h := range hosts {
		via := ""
		if h.JumpHost != nil {
			via = h.JumpHost.DisplayName()
		}
		rows = append(rows, []string{
			h.DisplayName(),
			h.Group,
			h.Username + "@" + h.Hostname,
			strconv.Itoa(h.Port),
			h.AuthStrategy().String(),
			via,
		})
	}
	return CreateLipglossTable([]string{"Name", "Group", "Target", "Port", "Auth", "Via"}, rows)
}
