package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorFailure = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#9CA3AF")
)

// RenderSummary draws the final report as a bordered box.
func RenderSummary(r *pipeline.Report) string {
	status, color := "SUCCESS", colorSuccess
	switch {
	case r.Interrupted:
		status, color = "INTERRUPTED", colorWarning
	case !r.Success:
		status, color = "FAILED", colorFailure
	}

	title := lipgloss.NewStyle().Foreground(color).Bold(true).Render("swarm " + status)
	label := lipgloss.NewStyle().Foreground(colorMuted).Width(16)

	rows := [][2]string{
		{"run", r.RunID},
		{"target", r.TargetDir},
		{"reason", r.Reason},
		{"iterations", fmt.Sprintf("%d/%d", r.IterationsUsed, r.MaxIterations)},
		{"files processed", fmt.Sprintf("%d", r.FilesProcessed)},
		{"bugs fixed", fmt.Sprintf("%d", r.BugsFixed)},
		{"tests", fmt.Sprintf("%d/%d passed (%.1f%%, threshold %.1f%%)", r.TestsPassed, r.TestsTotal, r.SuccessRate*100, r.Threshold*100)},
		{"elapsed", r.Elapsed.Round(time.Millisecond).String()},
	}

	var b strings.Builder
	b.WriteString(title)
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(label.Render(row[0]))
		b.WriteString(row[1])
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Render(b.String())
}
