package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	descriptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	userBubbleStyle  = lipgloss.NewStyle().
				Foreground(lipgloss.Color("231")).
				Background(lipgloss.Color("208")).
				Padding(0, 1)
	botBubbleStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("25")).
			Padding(0, 1)
	statusSendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	statusSentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	statusErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	typingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Italic(true)
	recordingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("161")).Bold(true).Padding(0, 1)
	trayStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	helpStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	noticeStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
)
