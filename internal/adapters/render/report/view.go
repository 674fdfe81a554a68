package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/upsample-dispatch/internal/application"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const (
	barWidth       = 24
	messageWidth   = 96
	timeLayout     = "2006-01-02 15:04:05"
	unknownValue   = "n/a"
	resumedMarker  = "(resumed)"
	cancelledLabel = "cancelled"
)

func RenderBatch(result domain.BatchResult) (string, error) {
	return render(func(s styles) string {
		return renderBatchView(result, s)
	})
}

func RenderEstimates(rows []application.EstimateRow, budget domain.TokenBudget) (string, error) {
	return render(func(s styles) string {
		return renderEstimateView(rows, budget, s)
	})
}

func RenderRecords(path string, records []domain.CheckpointRecord) (string, error) {
	return render(func(s styles) string {
		return renderRecordView(path, records, s)
	})
}

func renderBatchView(result domain.BatchResult, s styles) string {
	total := result.Total()
	done := len(result.Completed) + len(result.Failed)

	lines := []string{
		s.title.Render("Batch " + defaultIfEmpty(result.RunID, unknownValue)),
		s.header.Render(fmt.Sprintf("items: %d  completed: %d  failed: %d  skipped: %d  unprocessed: %d",
			total, len(result.Completed), len(result.Failed), len(result.Skipped), len(result.Unprocessed))),
	}
	if total == 0 {
		lines = append(lines, s.empty.Render("No items in batch."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	percent := float64(done) / float64(total) * 100
	lines = append(lines, lipgloss.JoinHorizontal(
		lipgloss.Top,
		renderProgressBar(percent, barWidth, s),
		" ",
		lipgloss.NewStyle().Foreground(interpolateColor(percent, 0, 100)).Render(fmt.Sprintf("%3.0f%% done", percent)),
	))

	if len(result.Completed) > 0 {
		section := []string{s.ok.Render("Completed")}
		for _, outcome := range result.Completed {
			section = append(section, completedLine(outcome, s))
		}
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, section...)))
	}

	if len(result.Failed) > 0 {
		section := []string{s.failed.Render("Failed")}
		for _, outcome := range result.Failed {
			section = append(section, failedLines(outcome, s)...)
		}
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, section...)))
	}

	if len(result.Unprocessed) > 0 {
		section := []string{
			s.warning.Render("Unprocessed"),
			s.detail.Render("  " + strings.Join(result.Unprocessed, ", ")),
			s.empty.Render("  run the batch again to retry these items"),
		}
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, section...)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func completedLine(outcome domain.ItemOutcome, s styles) string {
	parts := []string{"  ", s.item.Render(outcome.ID)}
	if outcome.Tokens > 0 {
		parts = append(parts, " ", s.column.Render(fmt.Sprintf("%d tokens", outcome.Tokens)))
	}
	parts = append(parts, " ", s.detail.Render("-> "+defaultIfEmpty(outcome.ResultRef, unknownValue)))
	if outcome.Resumed {
		parts = append(parts, " ", s.empty.Render(resumedMarker))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func failedLines(outcome domain.ItemOutcome, s styles) []string {
	label := string(outcome.ErrorKind)
	if outcome.Reason != "" {
		label = fmt.Sprintf("%s: %s", defaultIfEmpty(label, "error"), outcome.Reason)
	}

	head := []string{"  ", s.item.Render(outcome.ID), " ", s.failed.Render(defaultIfEmpty(label, "error"))}
	if outcome.Resumed {
		head = append(head, " ", s.empty.Render(resumedMarker))
	}

	lines := []string{lipgloss.JoinHorizontal(lipgloss.Top, head...)}
	if msg := strings.TrimSpace(outcome.Message); msg != "" && outcome.Reason != cancelledLabel {
		lines = append(lines, s.detail.Render("    "+wrapOrTrim(firstLine(msg), messageWidth)))
	}
	return lines
}

func renderEstimateView(rows []application.EstimateRow, budget domain.TokenBudget, s styles) string {
	lines := []string{
		s.title.Render("Token estimate"),
		s.header.Render(fmt.Sprintf("budget: %d tokens  k: %g  policy: %s  items: %d",
			budget.MaxTokens, budget.TokenFactor, budget.Policy, len(rows))),
	}
	if len(rows) == 0 {
		lines = append(lines, s.empty.Render("No items in batch."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	idWidth := len("id")
	for _, row := range rows {
		idWidth = maxInt(idWidth, lipgloss.Width(row.ID))
	}

	table := []string{s.column.Render(fmt.Sprintf("%-*s  %-11s %6s %9s  %-10s %-11s %9s",
		idWidth, "id", "source", "frames", "tokens", "action", "target", "dispatch"))}
	for _, row := range rows {
		table = append(table, estimateLine(row, idWidth, s))
	}
	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, table...)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func estimateLine(row application.EstimateRow, idWidth int, s styles) string {
	id := s.item.Render(fmt.Sprintf("%-*s", idWidth, row.ID))
	if row.Err != nil {
		return lipgloss.JoinHorizontal(lipgloss.Top, id, "  ", s.failed.Render(wrapOrTrim(firstLine(row.Err.Error()), messageWidth)))
	}

	d := row.Decision
	cells := s.detail.Render(fmt.Sprintf("%-11s %6d %9d  %-10s %-11s %9d",
		row.Source, row.Frames, d.Estimate, d.Action, d.Target, d.TargetEstimate))

	verdict := s.ok.Render("ok")
	if !row.Feasible {
		verdict = s.failed.Render("still exceeds budget")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, id, "  ", cells, "  ", verdict)
}

func renderRecordView(path string, records []domain.CheckpointRecord, s styles) string {
	completed := 0
	for _, record := range records {
		if record.Succeeded() {
			completed++
		}
	}

	lines := []string{
		s.title.Render("Checkpoint " + path),
		s.header.Render(fmt.Sprintf("records: %d  completed: %d  failed: %d", len(records), completed, len(records)-completed)),
	}
	if len(records) == 0 {
		lines = append(lines, s.empty.Render("No records yet."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	body := make([]string, 0, len(records))
	for _, record := range records {
		body = append(body, recordLine(record, s))
	}
	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, body...)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func recordLine(record domain.CheckpointRecord, s styles) string {
	status := s.ok.Render(string(record.Status))
	detail := "-> " + defaultIfEmpty(record.ResultRef, unknownValue)
	if !record.Succeeded() {
		status = s.failed.Render(string(record.Status))
		detail = strings.TrimSpace(fmt.Sprintf("%s %s", record.ErrorKind, record.Reason))
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.column.Render(formatTime(record.CompletedAt)),
		"  ",
		s.item.Render(record.ID),
		" ",
		status,
		" ",
		s.detail.Render(defaultIfEmpty(detail, unknownValue)),
	)
}

func renderProgressBar(donePercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	done := clampPercent(donePercent)
	filled := int(math.Round(float64(width) * done / 100.0))
	filled = clampInt(filled, 0, width)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// 240 (faded) at min up to 255 (bright) at max on the greyscale ramp.
	interpolated := 240.0 + 15.0*normalized
	return lipgloss.Color(fmt.Sprintf("%d", int(interpolated)))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return unknownValue
	}
	return t.UTC().Format(timeLayout)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func wrapOrTrim(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func clampInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func defaultIfEmpty(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
