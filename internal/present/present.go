// Package present derives display-ready summaries from query results.
package present

import (
	"fmt"
	"math"

	"github.com/healthchat/healthchat/internal/query"
)

// Examples are offered to new users as starting questions.
var Examples = []string{
	"Show top 5 sessions by calories",
	"What is the average pulse for 60 min duration?",
}

type Metric struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

func (m Metric) String() string {
	if m.Value == math.Trunc(m.Value) {
		return fmt.Sprintf("%s: %.0f", m.Label, m.Value)
	}
	return fmt.Sprintf("%s: %.2f", m.Label, m.Value)
}

// Summarize returns up to three metrics: the maximum of Calories, the mean of
// Pulse and the row count. When those columns are absent the first and
// second numeric columns stand in.
func Summarize(result query.Result) []Metric {
	if len(result.Rows) == 0 {
		return nil
	}
	numeric := numericColumns(result)

	maxColumn := pick(numeric, "Calories", 0)
	meanColumn := pick(numeric, "Pulse", 1)

	metrics := make([]Metric, 0, 3)
	if maxColumn != "" {
		values, _ := floats(result, maxColumn)
		metrics = append(metrics, Metric{Label: "Max " + maxColumn, Value: maxOf(values)})
	}
	if meanColumn != "" && meanColumn != maxColumn {
		values, _ := floats(result, meanColumn)
		metrics = append(metrics, Metric{Label: "Avg " + meanColumn, Value: meanOf(values)})
	}
	metrics = append(metrics, Metric{Label: "Rows", Value: float64(len(result.Rows))})
	return metrics
}

type Series struct {
	Column string    `json:"column"`
	Values []float64 `json:"values"`
}

// ChartSeries picks a numeric column to plot. Single-row results are not
// charted.
func ChartSeries(result query.Result) (Series, bool) {
	if len(result.Rows) < 2 {
		return Series{}, false
	}
	column := pick(numericColumns(result), "Calories", 0)
	if column == "" {
		return Series{}, false
	}
	values, ok := floats(result, column)
	if !ok {
		return Series{}, false
	}
	return Series{Column: column, Values: values}, true
}

func pick(numeric []string, preferred string, fallback int) string {
	for _, name := range numeric {
		if name == preferred {
			return name
		}
	}
	if fallback < len(numeric) {
		return numeric[fallback]
	}
	return ""
}

func numericColumns(result query.Result) []string {
	out := make([]string, 0, len(result.Columns))
	for _, column := range result.Columns {
		if _, ok := floats(result, column); ok {
			out = append(out, column)
		}
	}
	return out
}

func floats(result query.Result, column string) ([]float64, bool) {
	values, ok := result.Column(column)
	if !ok || len(values) == 0 {
		return nil, false
	}
	out := make([]float64, 0, len(values))
	for _, value := range values {
		f, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

func maxOf(values []float64) float64 {
	out := math.Inf(-1)
	for _, v := range values {
		out = math.Max(out, v)
	}
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
