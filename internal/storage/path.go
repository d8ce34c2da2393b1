package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportKey resolves the object key for a table export. A key ending in
// "/" is treated as a directory and receives a timestamped file name.
func BuildExportKey(key, tableName string, at time.Time) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("export key is required")
	}
	if !strings.HasSuffix(key, "/") {
		return key, nil
	}
	ts := at.UTC()
	return path.Join(
		key,
		tableName,
		fmt.Sprintf("%s-%s.parquet", tableName, ts.Format("20060102T150405Z")),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
