// Package render formats chat replies for a terminal.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/healthchat/healthchat/internal/chat"
	"github.com/healthchat/healthchat/internal/present"
	"github.com/healthchat/healthchat/internal/query"
)

// Flexoki dark palette.
var (
	colorBorder = lipgloss.Color("#403E3C")
	colorMuted  = lipgloss.Color("#878580")
	colorText   = lipgloss.Color("#FFFCF0")
	colorAccent = lipgloss.Color("#3AA99F")
	colorOrange = lipgloss.Color("#DA702C")
	colorRed    = lipgloss.Color("#D14D41")
	colorBlue   = lipgloss.Color("#4385BE")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	sqlStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorBorder).
			PaddingLeft(1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(colorText).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	warnStyle   = lipgloss.NewStyle().Foreground(colorOrange)
	errorStyle  = lipgloss.NewStyle().Foreground(colorRed)

	metricStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// MaxRows caps how many result rows are drawn.
const MaxRows = 50

func Title(text string) string {
	return titleStyle.Render(text)
}

func Muted(text string) string {
	return mutedStyle.Render(text)
}

// Reply renders one turn: the SQL, summary metrics, the table and a
// sparkline when the result has several rows.
func Reply(reply chat.Reply) string {
	var b strings.Builder
	if reply.SQL != "" {
		b.WriteString(sqlStyle.Render(reply.SQL))
		b.WriteString("\n")
	}

	switch reply.Kind {
	case chat.KindAnswered:
	case chat.KindExecutionFailed:
		b.WriteString(errorStyle.Render(reply.Message))
		return b.String()
	default:
		b.WriteString(warnStyle.Render(reply.Message))
		return b.String()
	}

	if reply.Result == nil {
		return b.String()
	}
	result := *reply.Result
	if metrics := present.Summarize(result); len(metrics) > 0 {
		b.WriteString(Metrics(metrics))
		b.WriteString("\n")
	}
	b.WriteString(Table(result))
	if series, ok := present.ChartSeries(result); ok {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(series.Column+" "))
		b.WriteString(Sparkline(series.Values))
	}
	if reply.CacheLevel != "" {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("(from %s cache)", reply.CacheLevel)))
	}
	return b.String()
}

func Metrics(metrics []present.Metric) string {
	boxes := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		boxes = append(boxes, metricStyle.Render(
			mutedStyle.Render(metric.Label)+"\n"+formatFloat(metric.Value),
		))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func Table(result query.Result) string {
	if len(result.Columns) == 0 {
		return mutedStyle.Render("(no columns)")
	}
	rows := result.Rows
	truncated := 0
	if len(rows) > MaxRows {
		truncated = len(rows) - MaxRows
		rows = rows[:MaxRows]
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(result.Columns...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = FormatValue(value)
		}
		t.Row(cells...)
	}

	out := t.Render()
	if len(result.Rows) == 0 {
		out += "\n" + mutedStyle.Render("(no rows)")
	}
	if truncated > 0 {
		out += "\n" + mutedStyle.Render(fmt.Sprintf("... %d more rows", truncated))
	}
	return out
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return lipgloss.NewStyle().Foreground(colorAccent).Render(b.String())
}

func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case float64:
		return formatFloat(typed)
	case float32:
		return formatFloat(float64(typed))
	default:
		return fmt.Sprint(typed)
	}
}

func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
