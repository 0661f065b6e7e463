package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"stagehand/internal/carousel"
	"stagehand/internal/engine"
	"stagehand/internal/narrative"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	actStyle    = lipgloss.NewStyle().Bold(true)
)

func renderError(err error) string {
	return errStyle.Render("error: ") + err.Error()
}

func renderStatus(status engine.Status) string {
	switch status {
	case engine.StatusCompleted:
		return okStyle.Render(string(status))
	case engine.StatusFailed:
		return errStyle.Render(string(status))
	default:
		return warnStyle.Render(string(status))
	}
}

// renderExecution prints the full execution record: per-act outcomes in TOC
// order, then the final response.
func renderExecution(exec *engine.NarrativeExecution) string {
	var sb strings.Builder

	sb.WriteString(headerStyle.Render(fmt.Sprintf("%s  [%s]", exec.Narrative, exec.ID)))
	sb.WriteString("  " + renderStatus(exec.Status))
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  (%s)", exec.FinishedAt.Sub(exec.StartedAt).Round(time.Millisecond))))
	sb.WriteString("\n")

	for _, act := range exec.Acts {
		sb.WriteString("\n")
		sb.WriteString(actStyle.Render("act " + act.ActName))
		if act.Err != "" {
			sb.WriteString("  " + errStyle.Render("failed"))
			sb.WriteString("\n  " + errStyle.Render(act.Err) + "\n")
			continue
		}
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d tokens", act.Usage.TotalTokens)))
		if act.Carousel != nil {
			sb.WriteString("\n" + renderCarousel(act.Carousel))
		}
		sb.WriteString("\n" + indent(act.Response) + "\n")
	}

	if exec.Err != "" {
		sb.WriteString("\n" + errStyle.Render(exec.Err) + "\n")
	}

	return sb.String()
}

func renderCarousel(result *carousel.Result) string {
	var sb strings.Builder
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  carousel: %d/%d launched", result.Launched, len(result.Outcomes))))
	for _, o := range result.Outcomes {
		switch o.Status {
		case carousel.IterationCompleted:
			sb.WriteString(dimStyle.Render(fmt.Sprintf("\n    #%d %s (%d tokens)", o.Index, okStyle.Render("ok"), o.Usage.TotalTokens)))
		case carousel.IterationFailed:
			sb.WriteString(fmt.Sprintf("\n    #%d %s %s", o.Index, errStyle.Render("failed"), dimStyle.Render(o.Err)))
		case carousel.IterationBudgetExhausted:
			sb.WriteString(fmt.Sprintf("\n    #%d %s", o.Index, warnStyle.Render("not launched")))
		}
	}
	return sb.String()
}

func renderExecutionSummary(exec *engine.NarrativeExecution) string {
	return fmt.Sprintf("%s  %-24s %s  %s",
		exec.ID,
		exec.Narrative,
		renderStatus(exec.Status),
		dimStyle.Render(exec.StartedAt.Format("2006-01-02 15:04:05")))
}

func renderNarrativeSummary(n *narrative.Narrative) string {
	var sb strings.Builder
	sb.WriteString(actStyle.Render(n.Name))
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  (%d acts: %s)", len(n.TOC), strings.Join(n.TOC, " -> "))))
	if n.Description != "" {
		sb.WriteString("\n  " + dimStyle.Render(n.Description))
	}
	return sb.String()
}

func indent(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
