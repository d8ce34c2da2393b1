package query

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotReadOnly = errors.New("only read-only SELECT/WITH queries are allowed")

type Result struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"-"`
}

// Column returns the values of the named column, or false when the
// projection does not include it.
func (r Result) Column(name string) ([]any, bool) {
	index := -1
	for i, column := range r.Columns {
		if column == name {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, false
	}
	values := make([]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		values = append(values, row[index])
	}
	return values, true
}

// ExecutionError is a user-visible failure to run a statement against the
// local store. The session continues after one.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return "SQL error: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Engine interface {
	Execute(ctx context.Context, sqlText string) (Result, error)
}

func IsReadOnly(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	if normalized == "" {
		return false
	}
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
