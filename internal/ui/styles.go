// internal/ui/styles.go

package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Kolory
	Subtle    = lipgloss.Color("#6C7086")
	Highlight = lipgloss.Color("#7DC4E4")
	Special   = lipgloss.Color("#FF9E64")
	Error     = lipgloss.Color("#F38BA8")
	Border    = lipgloss.Color("#33B2FF")
	hostColor = lipgloss.Color("#2DAFFF")
	infoColor = lipgloss.Color("#FF3A99")
	label     = lipgloss.Color("#A6ADC8")

	// Tytuł
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Highlight).
			MarginLeft(2)

	// Grupy hostów
	GroupStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Special)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("205")).
				Bold(true)

	HostStyle = lipgloss.NewStyle().
			Foreground(hostColor)

	LabelStyle = lipgloss.NewStyle().
			Foreground(label)

	Infotext = lipgloss.NewStyle().
			Foreground(infoColor)

	// Opisy i informacje
	DescriptionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243")).
				MarginLeft(2)

	// Statusy
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Special).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	// Kontenery
	WindowStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(Border).
			Padding(1, 2)

	PanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(Border).
			Padding(0, 1)
)
