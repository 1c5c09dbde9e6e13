package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
)

// statistics maps the accepted statistic spellings to SQL aggregate
// functions. Unknown spellings fall back to AVG.
var statistics = map[string]string{
	"avg":     "AVG",
	"average": "AVG",
	"mean":    "AVG",
	"sum":     "SUM",
	"total":   "SUM",
	"count":   "COUNT",
	"number":  "COUNT",
	"min":     "MIN",
	"minimum": "MIN",
	"lowest":  "MIN",
	"max":     "MAX",
	"maximum": "MAX",
	"highest": "MAX",
}

const defaultStatistic = "AVG"

// normalizeStatistic resolves a statistic spelling to its SQL function.
func normalizeStatistic(s string) string {
	if fn, ok := statistics[strings.ToLower(strings.TrimSpace(s))]; ok {
		return fn
	}
	return defaultStatistic
}

// AggregateStats executes the aggregate_stats tool: one statistic over a
// numeric column, grouped by a categorical column.
//
// Recognized parameters: group_by, target_col, agg_type. Both columns must
// pass the whitelist; missing or rejected values fall back to the configured
// category and value columns. The result has one row per group, keyed by the
// group column's own name plus a "value" column for the aggregate.
func (e *Executor) AggregateStats(ctx context.Context, params map[string]any) (*Result, error) {
	sc, err := e.store.Describe(ctx)
	if err != nil {
		return nil, err
	}

	groupBy := e.opts.CategoryColumn
	if g, ok := stringParam(params, "group_by"); ok {
		if sc.Whitelisted(g) {
			groupBy = g
		} else {
			slog.Warn("dropping non-whitelisted group column", "column", g)
		}
	}
	if groupBy == "" || !sc.Whitelisted(groupBy) {
		return nil, fmt.Errorf("%w: no groupable column available", ErrQueryFailed)
	}

	target := e.opts.ValueColumn
	if m, ok := stringParam(params, "target_col"); ok {
		if col := sc.Column(m); col != nil && col.Kind == "numeric" && sc.Whitelisted(m) {
			target = m
		} else {
			slog.Warn("dropping invalid target column", "column", m)
		}
	}

	stat, _ := stringParam(params, "agg_type")
	fn := normalizeStatistic(stat)

	// COUNT works without a numeric target column; everything else needs one.
	if target == "" && fn != "COUNT" {
		return nil, fmt.Errorf("%w: no numeric column to aggregate", ErrQueryFailed)
	}

	expr := fmt.Sprintf("%s(%s)", fn, quoteIdent(target))
	if fn == "COUNT" {
		expr = "COUNT(*)"
	}

	// The group column keeps its own name so downstream consumers (chart
	// encodings, summaries) can reference the real dataset field.
	stmt := fmt.Sprintf(
		`SELECT %s, %s AS "value" FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY "value" DESC`,
		quoteIdent(groupBy), expr, quoteIdent(sc.Table), quoteIdent(groupBy), quoteIdent(groupBy),
	)

	rows, err := e.store.DB().QueryContext(ctx, stmt)
	if err != nil {
		return nil, wrapDBErr("aggregate stats", err)
	}
	defer rows.Close()

	out, err := dataset.ScanRows(rows)
	if err != nil {
		return nil, wrapDBErr("scan aggregate rows", err)
	}

	effective := map[string]any{
		"group_by": groupBy,
		"agg_type": fn,
	}
	if fn != "COUNT" {
		effective["target_col"] = target
	}
	return &Result{Rows: out, Count: len(out), Effective: effective}, nil
}
