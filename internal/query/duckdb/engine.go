package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/healthchat/healthchat/internal/query"
)

type OpenFunc func(ctx context.Context) (*sql.DB, error)

// Engine runs each statement on its own connection to the store file and
// closes it before returning.
type Engine struct {
	open  OpenFunc
	guard *sync.RWMutex
}

// NewEngine opens the store at path read-only for every query. guard is
// shared with the bootstrapper so a rebuild never overlaps a query; nil
// disables it.
func NewEngine(path string, guard *sync.RWMutex) *Engine {
	return &Engine{
		open: func(ctx context.Context) (*sql.DB, error) {
			return OpenStore(ctx, path, true)
		},
		guard: guard,
	}
}

func NewEngineWithOpener(open OpenFunc) *Engine {
	return &Engine{open: open}
}

// OpenStore opens a DuckDB database file and verifies the connection.
func OpenStore(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := path
	if readOnly {
		dsn += "?access_mode=read_only"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

func (e *Engine) Execute(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = query.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Err: fmt.Errorf("sql is required")}
	}
	if !query.IsReadOnly(sqlText) {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Err: query.ErrNotReadOnly}
	}
	if e.guard != nil {
		e.guard.RLock()
		defer e.guard.RUnlock()
	}

	start := time.Now()
	result, err := e.run(ctx, sqlText)
	if err != nil {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Err: err}
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) run(ctx context.Context, sqlText string) (query.Result, error) {
	db, err := e.open(ctx)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{Columns: columns, Rows: resultRows}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case int8:
			normalized[i] = int64(typed)
		case int16:
			normalized[i] = int64(typed)
		case int32:
			normalized[i] = int64(typed)
		case int:
			normalized[i] = int64(typed)
		case uint8:
			normalized[i] = int64(typed)
		case uint16:
			normalized[i] = int64(typed)
		case uint32:
			normalized[i] = int64(typed)
		case float32:
			normalized[i] = float64(typed)
		case *big.Int:
			// SUM over integer columns yields HUGEINT.
			if typed != nil && typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		case interface{ Float64() float64 }:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
