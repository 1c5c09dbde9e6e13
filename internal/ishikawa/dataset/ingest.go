package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// IngestCSV loads the CSV file at csvPath into the configured dataset table,
// replacing the table if it already exists. Column types are inferred from
// the data: a column whose every non-empty value parses as a number becomes
// REAL, everything else becomes TEXT.
//
// Returns the number of rows ingested.
func (s *Store) IngestCSV(ctx context.Context, csvPath string) (int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("dataset: open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("dataset: read csv header: %w", err)
	}
	if len(header) == 0 {
		return 0, fmt.Errorf("dataset: csv has no columns")
	}

	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		name := sanitizeColumnName(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return 0, fmt.Errorf("dataset: duplicate csv column %q", name)
		}
		seen[name] = struct{}{}
		columns[i] = name
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("dataset: read csv row: %w", err)
		}
		if len(rec) != len(columns) {
			return 0, fmt.Errorf("dataset: csv row has %d fields, want %d", len(rec), len(columns))
		}
		records = append(records, rec)
	}

	numeric := inferNumericColumns(columns, records)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("dataset: begin ingest: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, s.opts.Table)); err != nil {
		return 0, fmt.Errorf("dataset: drop table: %w", err)
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		typ := "TEXT"
		if numeric[col] {
			typ = "REAL"
		}
		defs[i] = fmt.Sprintf(`"%s" %s`, col, typ)
	}
	createStmt := fmt.Sprintf(`CREATE TABLE "%s" (%s)`, s.opts.Table, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return 0, fmt.Errorf("dataset: create table: %w", err)
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(columns)), ",")
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = `"` + col + `"`
	}
	insertStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO "%s" (%s) VALUES (%s)`,
		s.opts.Table, strings.Join(quoted, ", "), placeholders,
	))
	if err != nil {
		return 0, fmt.Errorf("dataset: prepare insert: %w", err)
	}
	defer insertStmt.Close()

	for _, rec := range records {
		args := make([]any, len(rec))
		for i, v := range rec {
			switch {
			case v == "":
				args[i] = nil
			case numeric[columns[i]]:
				n, err := strconv.ParseFloat(v, 64)
				if err != nil {
					args[i] = nil
				} else {
					args[i] = n
				}
			default:
				args[i] = v
			}
		}
		if _, err := insertStmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("dataset: insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("dataset: commit ingest: %w", err)
	}

	// Ingestion changes the schema; any cached context is stale.
	s.invalidate()

	slog.Info("ingested csv", "source", csvPath, "table", s.opts.Table,
		"rows", len(records), "columns", len(columns))
	return len(records), nil
}

// inferNumericColumns marks a column numeric when it has at least one value
// and every non-empty value parses as a float.
func inferNumericColumns(columns []string, records [][]string) map[string]bool {
	numeric := make(map[string]bool, len(columns))
	for i, col := range columns {
		sawValue := false
		isNumeric := true
		for _, rec := range records {
			v := rec[i]
			if v == "" {
				continue
			}
			sawValue = true
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isNumeric = false
				break
			}
		}
		numeric[col] = sawValue && isNumeric
	}
	return numeric
}

// sanitizeColumnName converts a CSV header cell to a valid SQL identifier:
// lowercase letters, digits, and underscores; spaces and dashes become
// underscores; anything else is dropped.
func sanitizeColumnName(h string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(strings.ToLower(h)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	return name
}
