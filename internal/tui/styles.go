package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	barStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)

	eventsStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)

	statusLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1)

	shownStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
)

// renderStatusBar shows the report stream state and the UI on the cluster.
func renderStatusBar(connected, haveReport bool, mainUI int, name string, ignored, width int) string {
	var dot string
	if connected {
		dot = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●") + " daemon connected"
	} else {
		dot = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("●") + " daemon gone"
	}
	parts := []string{dot}
	if haveReport {
		parts = append(parts, "cluster shows "+shownStyle.Render(fmt.Sprintf("%d %s", mainUI, name)))
	} else {
		parts = append(parts, "waiting for first report")
	}
	if ignored > 0 {
		parts = append(parts, fmt.Sprintf("ignored:%d", ignored))
	}
	return barStyle.Width(width).Render(strings.Join(parts, "  "))
}

func renderEvents(events []string, width int) string {
	body := "no events yet"
	if len(events) > 0 {
		body = strings.Join(events, "\n")
	}
	w := width - 2
	if w < 10 {
		w = 10
	}
	return eventsStyle.Width(w).Render(body)
}

func renderStatusLine(text string, width int) string {
	return statusLineStyle.Width(width).Render(text)
}

func renderHelpBar(width int) string {
	help := "m/tab: cycle  0-9: switch  ↑/↓ + enter: switch to selected  q/ctrl-c: quit"
	return helpStyle.Width(width).Render(help)
}
