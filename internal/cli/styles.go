// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/spice-suggest/internal/engine"
	"github.com/Veraticus/spice-suggest/internal/model"
)

var (
	// PrimaryColor is the main theme color (spicy red).
	PrimaryColor = lipgloss.Color("#FF6B6B")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4") // Teal
	// WarningColor indicates degraded answers and warnings.
	WarningColor = lipgloss.Color("#FFE66D") // Yellow
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B") // Red
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666") // Gray

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(0, 1)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86"))
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	SpiceIcon   = "🌶️"
	RobotIcon   = "🤖"
	RuleIcon    = "📏"
	ChartIcon   = "📊"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatTitle formats a title with the spice icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(SpiceIcon + " " + title)
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, TitleStyle.Render(title), content))
}

func sourceIcon(source model.CandidateSource) string {
	switch source {
	case model.SourceRule:
		return RuleIcon
	case model.SourceModel:
		return RobotIcon
	default:
		return ChartIcon
	}
}

// RenderSuggestion renders one suggestion event and its candidates.
func RenderSuggestion(resp *engine.Response) string {
	var b strings.Builder

	header := fmt.Sprintf("%s %s via %s", sourceIcon(resp.Source), resp.TxnID, resp.Mode)
	if resp.ModelID != "" {
		header += " (" + resp.ModelID + ")"
	}
	b.WriteString(header + "\n")
	b.WriteString(SubtleStyle.Render("event "+resp.EventID) + "\n")

	if resp.Degraded() {
		b.WriteString(FormatWarning(fmt.Sprintf("degraded: %s (%s)", resp.Reason, resp.Cause)) + "\n")
	}

	if len(resp.Candidates) == 0 {
		b.WriteString(SubtleStyle.Render("no candidates"))
		return RenderBox("Suggestion", b.String())
	}

	for i, c := range resp.Candidates {
		line := fmt.Sprintf("%d. %-24s %5.1f%%", i+1, c.Category, c.Confidence*100)
		if c.LowConfidence {
			line = WarningStyle.Render(line + "  low confidence")
		}
		b.WriteString(line)
		if i < len(resp.Candidates)-1 {
			b.WriteString("\n")
		}
	}
	return RenderBox("Suggestion", b.String())
}

// RenderBatchSummary renders the counts of a batch run.
func RenderBatchSummary(s engine.BatchSummary) string {
	body := fmt.Sprintf("  • Transactions: %d\n", s.Total) +
		fmt.Sprintf("  • Suggested: %d\n", s.Succeeded) +
		fmt.Sprintf("  • Degraded: %d\n", s.Degraded) +
		fmt.Sprintf("  • Failed: %d\n", s.Failed) +
		fmt.Sprintf("  • Time taken: %s", s.ProcessingTime.Round(time.Millisecond))
	return RenderBox("Suggestions Complete", body)
}

// RenderTable renders rows under a bold header, padding every column to its
// widest cell.
func RenderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	pad := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	lines := []string{TableHeaderStyle.Render(pad(header))}
	for _, row := range rows {
		lines = append(lines, pad(row))
	}
	return strings.Join(lines, "\n")
}

// RenderModels renders the registry.
func RenderModels(entries []model.RegistryEntry) string {
	if len(entries) == 0 {
		return SubtleStyle.Render("no models registered")
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.ModelID, string(e.Phase), e.ArtifactURI, e.UpdatedAt.Format("2006-01-02 15:04")}
	}
	return RenderTable([]string{"MODEL", "PHASE", "ARTIFACT", "UPDATED"}, rows)
}

// RenderRules renders user rules in evaluation order.
func RenderRules(rules []model.Rule) string {
	if len(rules) == 0 {
		return SubtleStyle.Render("no rules")
	}
	rows := make([][]string, len(rules))
	for i, r := range rules {
		rows[i] = []string{fmt.Sprint(r.ID), r.Pattern, r.Category, fmt.Sprint(r.Priority)}
	}
	return RenderTable([]string{"ID", "PATTERN", "CATEGORY", "PRIORITY"}, rows)
}
