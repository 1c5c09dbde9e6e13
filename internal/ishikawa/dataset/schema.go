package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column describes a single dataset column for prompt context and validation.
type Column struct {
	Name string
	// Kind is one of "numeric", "categorical", or "text".
	Kind string
	// Description comes from the data dictionary, empty when none is stored.
	Description string

	// Numeric stats, populated when Kind is "numeric".
	Min  float64
	Max  float64
	Mean float64

	// Distinct values, populated when Kind is "categorical".
	Values []string
}

// Context is the schema snapshot handed to the intent resolver and the answer
// synthesizer: the table shape, a few sample rows, and the stored grouping
// map. It also owns the sortable/groupable column whitelist.
type Context struct {
	Table      string
	Columns    []Column
	SampleRows []map[string]any
	Groupings  map[string][]string

	whitelist map[string]struct{}
}

// Whitelisted reports whether col may appear in an ORDER BY or GROUP BY
// clause. Every column interpolated into SQL must pass this check.
func (c *Context) Whitelisted(col string) bool {
	_, ok := c.whitelist[col]
	return ok
}

// SortableColumns returns the whitelist in column order, for prompts and the
// schema endpoint.
func (c *Context) SortableColumns() []string {
	out := make([]string, 0, len(c.whitelist))
	for _, col := range c.Columns {
		if _, ok := c.whitelist[col.Name]; ok {
			out = append(out, col.Name)
		}
	}
	return out
}

// Column returns the named column, or nil when the table has no such column.
func (c *Context) Column(name string) *Column {
	for i := range c.Columns {
		if c.Columns[i].Name == name {
			return &c.Columns[i]
		}
	}
	return nil
}

// Categorical columns with at most this many distinct values get their value
// list included in the schema context.
const categoricalCardinality = 20

// Describe returns the schema context for the dataset table, computing it on
// first use and caching it for the life of the process. Ingestion invalidates
// the cache.
func (s *Store) Describe(ctx context.Context) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}

	exists, err := s.TableExists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: table %q not found", ErrDataUnavailable, s.opts.Table)
	}

	columns, err := s.describeColumns(ctx)
	if err != nil {
		return nil, err
	}

	samples, err := s.sampleRows(ctx, columns)
	if err != nil {
		return nil, err
	}

	descriptions, err := s.loadDescriptions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range columns {
		columns[i].Description = descriptions[columns[i].Name]
	}

	groupings, err := s.loadGroupings(ctx)
	if err != nil {
		return nil, err
	}

	sc := &Context{
		Table:      s.opts.Table,
		Columns:    columns,
		SampleRows: samples,
		Groupings:  groupings,
		whitelist:  buildWhitelist(columns, s.opts.SortColumns),
	}
	s.cached = sc
	return sc, nil
}

// buildWhitelist intersects the configured sort columns with the columns that
// actually exist. An empty configuration whitelists every column.
func buildWhitelist(columns []Column, configured []string) map[string]struct{} {
	actual := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		actual[col.Name] = struct{}{}
	}
	if len(configured) == 0 {
		return actual
	}
	wl := make(map[string]struct{}, len(configured))
	for _, col := range configured {
		if _, ok := actual[col]; ok {
			wl[col] = struct{}{}
		}
	}
	return wl
}

func (s *Store) describeColumns(ctx context.Context) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, s.opts.Table))
	if err != nil {
		return nil, fmt.Errorf("dataset: table info: %w", err)
	}
	defer rows.Close()

	type colInfo struct {
		name, declType string
	}
	var infos []colInfo
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("dataset: scan table info: %w", err)
		}
		infos = append(infos, colInfo{name: name, declType: typ})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dataset: table info: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: table %q has no columns", ErrDataUnavailable, s.opts.Table)
	}

	columns := make([]Column, 0, len(infos))
	for _, info := range infos {
		col := Column{Name: info.name}
		if declaredNumeric(info.declType) {
			col.Kind = "numeric"
			err := s.db.QueryRowContext(ctx, fmt.Sprintf(
				`SELECT COALESCE(MIN("%s"), 0), COALESCE(MAX("%s"), 0), COALESCE(AVG("%s"), 0) FROM "%s"`,
				info.name, info.name, info.name, s.opts.Table,
			)).Scan(&col.Min, &col.Max, &col.Mean)
			if err != nil {
				return nil, fmt.Errorf("dataset: stats for %s: %w", info.name, err)
			}
		} else {
			var distinct int
			err := s.db.QueryRowContext(ctx, fmt.Sprintf(
				`SELECT COUNT(DISTINCT "%s") FROM "%s"`, info.name, s.opts.Table,
			)).Scan(&distinct)
			if err != nil {
				return nil, fmt.Errorf("dataset: cardinality for %s: %w", info.name, err)
			}
			if distinct > 0 && distinct <= categoricalCardinality {
				col.Kind = "categorical"
				col.Values, err = s.distinctValues(ctx, info.name)
				if err != nil {
					return nil, err
				}
			} else {
				col.Kind = "text"
			}
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func (s *Store) distinctValues(ctx context.Context, col string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT "%s" FROM "%s" WHERE "%s" IS NOT NULL ORDER BY "%s"`,
		col, s.opts.Table, col, col,
	))
	if err != nil {
		return nil, fmt.Errorf("dataset: distinct values for %s: %w", col, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("dataset: scan distinct value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) sampleRows(ctx context.Context, columns []Column) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT * FROM "%s" LIMIT %d`, s.opts.Table, s.opts.SampleRows,
	))
	if err != nil {
		return nil, fmt.Errorf("dataset: sample rows: %w", err)
	}
	defer rows.Close()
	return ScanRows(rows)
}

// ScanRows drains a result set into a slice of column-keyed maps. Byte slices
// are converted to strings so the result marshals cleanly to JSON.
func ScanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dataset: result columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dataset: scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dataset: iterate rows: %w", err)
	}
	return out, nil
}

func declaredNumeric(declType string) bool {
	t := strings.ToUpper(declType)
	for _, marker := range []string{"INT", "REAL", "FLOA", "DOUB", "NUM", "DEC"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
