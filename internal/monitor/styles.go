package monitor

import "github.com/charmbracelet/lipgloss"

var (
	textPrimaryColor   = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#CCCCCC"}
	textMutedColor     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#696969"}
	borderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}
	statusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	statusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	titleColor         = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(titleColor).PaddingLeft(1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(textPrimaryColor)
	cellStyle    = lipgloss.NewStyle().Foreground(textPrimaryColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(textMutedColor)
	activeStyle  = lipgloss.NewStyle().Foreground(statusSuccessColor)
	mainStyle    = lipgloss.NewStyle().Bold(true).Foreground(statusWarningColor)
	dividerStyle = lipgloss.NewStyle().Foreground(borderDefaultColor)
	tabStyle     = lipgloss.NewStyle().Padding(0, 1).Foreground(textMutedColor)
	tabOnStyle   = lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true).Foreground(titleColor)
)
