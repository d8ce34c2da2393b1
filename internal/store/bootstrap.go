package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/healthchat/healthchat/internal/observability"
	"github.com/healthchat/healthchat/internal/query/duckdb"
	"github.com/healthchat/healthchat/internal/schema"
	"github.com/healthchat/healthchat/internal/storage"
)

type Bootstrapper struct {
	StorePath string
	// Source is the object key of the seed file inside Objects.
	Source  string
	Format  Format
	Objects storage.ObjectStore
	// Exports receives parquet snapshots; nil falls back to Objects.
	Exports storage.ObjectStore
	// Guard is shared with the query engine.
	Guard  *sync.RWMutex
	Logger *slog.Logger
	Now    func() time.Time
}

type Report struct {
	Created  bool          `json:"created"`
	Rows     int64         `json:"rows"`
	Source   string        `json:"source,omitempty"`
	Duration time.Duration `json:"-"`
}

// Ensure builds the store when the file is absent or empty and leaves an
// existing store untouched.
func (b *Bootstrapper) Ensure(ctx context.Context) (Report, error) {
	b.lock()
	defer b.unlock()

	info, err := os.Stat(b.StorePath)
	switch {
	case err == nil && info.Size() > 0:
		return Report{}, nil
	case err == nil, errors.Is(err, fs.ErrNotExist):
	default:
		return Report{}, fmt.Errorf("stat store %q: %w", b.StorePath, err)
	}
	if err := removeStoreFiles(b.StorePath); err != nil {
		return Report{}, err
	}
	return b.build(ctx)
}

// Recreate deletes the store and rebuilds it from the source.
func (b *Bootstrapper) Recreate(ctx context.Context) (Report, error) {
	b.lock()
	defer b.unlock()

	if err := removeStoreFiles(b.StorePath); err != nil {
		return Report{}, err
	}
	return b.build(ctx)
}

func (b *Bootstrapper) build(ctx context.Context) (Report, error) {
	if strings.TrimSpace(b.StorePath) == "" {
		return Report{}, fmt.Errorf("store path is required")
	}
	if b.Objects == nil {
		return Report{}, fmt.Errorf("object store is required")
	}
	start := b.now()

	format, err := FormatFor(string(b.Format), b.Source)
	if err != nil {
		return Report{}, err
	}
	rows, err := b.loadSource(ctx, format)
	if err != nil {
		return Report{}, err
	}
	if err := writeTable(ctx, b.StorePath, rows); err != nil {
		_ = removeStoreFiles(b.StorePath)
		return Report{}, err
	}

	report := Report{Created: true, Rows: int64(len(rows)), Source: b.Source, Duration: b.now().Sub(start)}
	observability.SetStoreRowsLoaded(report.Rows)
	b.logger().Info("store created",
		slog.String("path", b.StorePath),
		slog.String("source", b.Source),
		slog.String("format", string(format)),
		slog.Int64("rows", report.Rows),
	)
	return report, nil
}

func (b *Bootstrapper) loadSource(ctx context.Context, format Format) ([]HealthMetric, error) {
	reader, err := b.Objects.Get(ctx, b.Source)
	if err != nil {
		return nil, fmt.Errorf("open source %q: %w", b.Source, err)
	}
	defer func() { _ = reader.Close() }()

	rows, err := decode(format, reader)
	if err != nil {
		return nil, fmt.Errorf("load source %q: %w", b.Source, err)
	}
	return rows, nil
}

func writeTable(ctx context.Context, path string, rows []HealthMetric) error {
	db, err := duckdb.OpenStore(ctx, path, false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	table := schema.HealthMetrics
	if _, err := db.ExecContext(ctx, table.CreateTableSQL()); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.values()...); err != nil {
			return fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load: %w", err)
	}
	return nil
}

func insertSQL(table schema.Table) string {
	columns := make([]string, 0, len(table.Columns))
	placeholders := make([]string, 0, len(table.Columns))
	for _, name := range table.ColumnNames() {
		columns = append(columns, schema.QuoteIdent(name))
		placeholders = append(placeholders, "?")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.QuoteIdent(table.Name), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// Export snapshots the table as parquet into Objects under key. A key
// ending in "/" receives a timestamped file name.
func (b *Bootstrapper) Export(ctx context.Context, key string) (storage.ObjectInfo, error) {
	target := b.Exports
	if target == nil {
		target = b.Objects
	}
	if target == nil {
		return storage.ObjectInfo{}, fmt.Errorf("export object store is required")
	}
	objectKey, err := storage.BuildExportKey(key, schema.HealthMetrics.Name, b.now())
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	rows, err := b.readTable(ctx)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	data, err := EncodeParquet(rows)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := target.Put(ctx, objectKey, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload export: %w", err)
	}
	if info.Key == "" {
		info.Key = objectKey
	}
	b.logger().Info("store exported",
		slog.String("key", info.Key),
		slog.Int("rows", len(rows)),
		slog.Int64("bytes", info.Size),
	)
	return info, nil
}

func (b *Bootstrapper) readTable(ctx context.Context) ([]HealthMetric, error) {
	if b.Guard != nil {
		b.Guard.RLock()
		defer b.Guard.RUnlock()
	}
	db, err := duckdb.OpenStore(ctx, b.StorePath, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	table := schema.HealthMetrics
	columns := make([]string, 0, len(table.Columns))
	for _, name := range table.ColumnNames() {
		columns = append(columns, schema.QuoteIdent(name))
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(columns, ", "), schema.QuoteIdent(table.Name)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]HealthMetric, 0)
	for rows.Next() {
		var row HealthMetric
		if err := rows.Scan(&row.Duration, &row.Pulse, &row.Maxpulse, &row.Calories); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table.Name, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table.Name, err)
	}
	return out, nil
}

func (b *Bootstrapper) lock() {
	if b.Guard != nil {
		b.Guard.Lock()
	}
}

func (b *Bootstrapper) unlock() {
	if b.Guard != nil {
		b.Guard.Unlock()
	}
}

func (b *Bootstrapper) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

func (b *Bootstrapper) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func removeStoreFiles(path string) error {
	for _, target := range []string{path, path + ".wal"} {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %q: %w", target, err)
		}
	}
	return nil
}
