package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
)

// SearchRows executes the search_rows tool: a filtered, ordered, limited
// SELECT over the dataset table.
//
// Recognized parameters: category, min_value, max_value, limit, sort_by,
// sort_order. Filters only apply when the matching column is configured; a
// sort_by outside the whitelist is dropped rather than rejected.
func (e *Executor) SearchRows(ctx context.Context, params map[string]any) (*Result, error) {
	sc, err := e.store.Describe(ctx)
	if err != nil {
		return nil, err
	}

	effective := map[string]any{}
	var b strings.Builder
	var args []any

	fmt.Fprintf(&b, `SELECT * FROM %s WHERE 1=1`, quoteIdent(sc.Table))

	if category, ok := stringParam(params, "category"); ok && e.opts.CategoryColumn != "" {
		fmt.Fprintf(&b, ` AND %s = ?`, quoteIdent(e.opts.CategoryColumn))
		args = append(args, category)
		effective["category"] = category
	}
	if min, ok := floatParam(params, "min_value"); ok && e.opts.ValueColumn != "" {
		fmt.Fprintf(&b, ` AND %s >= ?`, quoteIdent(e.opts.ValueColumn))
		args = append(args, min)
		effective["min_value"] = min
	}
	if max, ok := floatParam(params, "max_value"); ok && e.opts.ValueColumn != "" {
		fmt.Fprintf(&b, ` AND %s <= ?`, quoteIdent(e.opts.ValueColumn))
		args = append(args, max)
		effective["max_value"] = max
	}

	if sortBy, ok := stringParam(params, "sort_by"); ok {
		if sc.Whitelisted(sortBy) {
			order := "ASC"
			if o, ok := stringParam(params, "sort_order"); ok && strings.EqualFold(o, "DESC") {
				order = "DESC"
			}
			fmt.Fprintf(&b, ` ORDER BY %s %s`, quoteIdent(sortBy), order)
			effective["sort_by"] = sortBy
			effective["sort_order"] = order
		} else {
			slog.Warn("dropping non-whitelisted sort column", "column", sortBy)
		}
	}

	limit := e.clampLimit(intParam(params, "limit"))
	b.WriteString(` LIMIT ?`)
	args = append(args, limit)
	effective["limit"] = limit

	rows, err := e.store.DB().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, wrapDBErr("search rows", err)
	}
	defer rows.Close()

	out, err := dataset.ScanRows(rows)
	if err != nil {
		return nil, wrapDBErr("scan search rows", err)
	}
	return &Result{Rows: out, Count: len(out), Effective: effective}, nil
}
