package utils

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func badge(bg, fg string) lipgloss.Style {
	return lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Background(lipgloss.Color(bg)).
		Foreground(lipgloss.Color(fg))
}

var levelBadges = map[string]lipgloss.Style{
	"INFO": badge("87", "16"),
	"WARN": badge("192", "16"),
	"ERRO": badge("204", "0"),
	"DEBU": badge("63", "0"),
}

var lotMarkers = []string{"Lot opened", "Lot closed", "Auction complete"}

var lotStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("215"))

// ColorizeLogs styles the level badges and highlights lot lifecycle
// lines for the dashboard's log viewport. Lines that already carry ANSI
// codes are left alone.
func ColorizeLogs(logs []string) []string {
	for i, line := range logs {
		if strings.Contains(line, "\x1b[") {
			continue
		}
		for level, style := range levelBadges {
			if strings.Contains(line, level) {
				line = strings.Replace(line, level, style.Render(level), 1)
				break
			}
		}
		for _, marker := range lotMarkers {
			if strings.Contains(line, marker) {
				line = strings.Replace(line, marker, lotStyle.Render(marker), 1)
				break
			}
		}
		logs[i] = line
	}
	return logs
}
