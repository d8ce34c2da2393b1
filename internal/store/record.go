// Package store builds the local DuckDB file that the chat queries and
// exports it back to object storage.
package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/healthchat/healthchat/internal/schema"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// HealthMetric is one row of schema.HealthMetrics.
type HealthMetric struct {
	Duration int64   `parquet:"Duration"`
	Pulse    int64   `parquet:"Pulse"`
	Maxpulse int64   `parquet:"Maxpulse"`
	Calories float64 `parquet:"Calories"`
}

func (m HealthMetric) values() []any {
	return []any{m.Duration, m.Pulse, m.Maxpulse, m.Calories}
}

// missingTokens are cell values treated as absent and loaded as 0.
var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"nan":  {},
	"null": {},
	"n/a":  {},
}

func isMissing(raw string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// FormatFor picks the source format from an explicit setting or the key's
// extension.
func FormatFor(explicit, key string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case string(FormatCSV):
		return FormatCSV, nil
	case string(FormatParquet):
		return FormatParquet, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported source format %q", explicit)
	}
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(key)), ".parquet") {
		return FormatParquet, nil
	}
	return FormatCSV, nil
}

func decode(format Format, r io.Reader) ([]HealthMetric, error) {
	switch format {
	case FormatParquet:
		return ReadParquet(r)
	case FormatCSV, "":
		return ReadCSV(r)
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}
}

// ReadCSV parses a header-first CSV. The header must name every column of
// the table; extra columns are ignored.
func ReadCSV(r io.Reader) ([]HealthMetric, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv source is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	positions := make([]int, 0, len(schema.HealthMetrics.Columns))
	for _, column := range schema.HealthMetrics.Columns {
		pos, ok := index[column.Name]
		if !ok {
			return nil, fmt.Errorf("csv header is missing column %q", column.Name)
		}
		positions = append(positions, pos)
	}

	out := make([]HealthMetric, 0)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		cell := func(i int) string {
			if positions[i] >= len(record) {
				return ""
			}
			return record[positions[i]]
		}

		var row HealthMetric
		if row.Duration, err = parseInt(cell(0)); err != nil {
			return nil, fmt.Errorf("csv line %d column Duration: %w", line, err)
		}
		if row.Pulse, err = parseInt(cell(1)); err != nil {
			return nil, fmt.Errorf("csv line %d column Pulse: %w", line, err)
		}
		if row.Maxpulse, err = parseInt(cell(2)); err != nil {
			return nil, fmt.Errorf("csv line %d column Maxpulse: %w", line, err)
		}
		if row.Calories, err = parseFloat(cell(3)); err != nil {
			return nil, fmt.Errorf("csv line %d column Calories: %w", line, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func parseInt(raw string) (int64, error) {
	if isMissing(raw) {
		return 0, nil
	}
	raw = strings.TrimSpace(raw)
	if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return value, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return int64(math.Round(value)), nil
}

func parseFloat(raw string) (float64, error) {
	if isMissing(raw) {
		return 0, nil
	}
	raw = strings.TrimSpace(raw)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, nil
	}
	return value, nil
}

// ReadParquet decodes rows written with the HealthMetric layout.
func ReadParquet(r io.Reader) ([]HealthMetric, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read parquet source: %w", err)
	}
	reader := parquet.NewGenericReader[HealthMetric](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	out := make([]HealthMetric, 0, reader.NumRows())
	buf := make([]HealthMetric, 256)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			if math.IsNaN(row.Calories) {
				row.Calories = 0
			}
			out = append(out, row)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

// EncodeParquet writes rows into an in-memory parquet file.
func EncodeParquet(rows []HealthMetric) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[HealthMetric](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
