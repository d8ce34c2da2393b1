package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/healthchat/healthchat/internal/query/duckdb"
	"github.com/healthchat/healthchat/internal/storage/local"
)

const seedCSV = "Duration,Pulse,Maxpulse,Calories\n" +
	"60,110,130,409.1\n" +
	"60,117,145,479.0\n" +
	"45,109,175,\n"

func newBootstrapper(t *testing.T, csv string) (*Bootstrapper, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte(csv), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return &Bootstrapper{
		StorePath: filepath.Join(dir, "health.duckdb"),
		Source:    "data.csv",
		Objects:   local.New(dir),
		Guard:     &sync.RWMutex{},
		Now:       func() time.Time { return time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC) },
	}, dir
}

func TestEnsureCreatesStoreWithZeroFilledValues(t *testing.T) {
	b, _ := newBootstrapper(t, seedCSV)

	report, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !report.Created || report.Rows != 3 {
		t.Fatalf("report = %+v", report)
	}

	engine := duckdb.NewEngine(b.StorePath, b.Guard)
	result, err := engine.Execute(context.Background(), `SELECT Calories FROM health_metrics WHERE Maxpulse = 175`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != float64(0) {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestEnsureLeavesExistingStore(t *testing.T) {
	b, dir := newBootstrapper(t, seedCSV)
	if _, err := b.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte("broken"), 0o644); err != nil {
		t.Fatalf("overwrite seed: %v", err)
	}

	report, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if report.Created {
		t.Fatal("expected existing store to be kept")
	}
}

func TestEnsureRebuildsEmptyFile(t *testing.T) {
	b, _ := newBootstrapper(t, seedCSV)
	if err := os.WriteFile(b.StorePath, nil, 0o644); err != nil {
		t.Fatalf("create empty store: %v", err)
	}
	report, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !report.Created {
		t.Fatal("expected empty store file to be rebuilt")
	}
}

func TestRecreateReloadsSource(t *testing.T) {
	b, dir := newBootstrapper(t, seedCSV)
	if _, err := b.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	updated := seedCSV + "30,100,120,200.5\n"
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite seed: %v", err)
	}

	report, err := b.Recreate(context.Background())
	if err != nil {
		t.Fatalf("Recreate() error = %v", err)
	}
	if report.Rows != 4 {
		t.Fatalf("rows = %d", report.Rows)
	}

	result, err := duckdb.NewEngine(b.StorePath, b.Guard).Execute(context.Background(), `SELECT COUNT(*) FROM health_metrics`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0][0] != int64(4) {
		t.Fatalf("count = %#v", result.Rows[0][0])
	}
}

func TestEnsureFailsOnMissingSource(t *testing.T) {
	b, _ := newBootstrapper(t, seedCSV)
	b.Source = "absent.csv"

	_, err := b.Ensure(context.Background())
	if err == nil || !strings.Contains(err.Error(), "absent.csv") {
		t.Fatalf("Ensure() error = %v", err)
	}
	if _, statErr := os.Stat(b.StorePath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no store file after failure, stat err = %v", statErr)
	}
}

func TestExportWritesParquetSnapshot(t *testing.T) {
	b, dir := newBootstrapper(t, seedCSV)
	if _, err := b.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	info, err := b.Export(context.Background(), "exports/")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	wantKey := "exports/health_metrics/health_metrics-20260302T093000Z.parquet"
	if info.Key != wantKey {
		t.Fatalf("key = %q, want %q", info.Key, wantKey)
	}

	file, err := os.Open(filepath.Join(dir, filepath.FromSlash(wantKey)))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	rows, err := ReadParquet(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("ReadParquet() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("exported rows = %d", len(rows))
	}
}
