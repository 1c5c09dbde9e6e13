// Package query turns validated tool parameters into guarded SQL.
//
// Nothing from the model ever reaches the SQL text: values are bound as
// parameters and column names are interpolated only after passing the schema
// whitelist. Parameters that fail a check are dropped and the query runs
// with defaults instead of failing the turn.
package query

import (
	"errors"
	"fmt"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
)

// ErrQueryFailed wraps database-side failures so callers can degrade to a
// conversational reply instead of surfacing SQL errors to the user.
var ErrQueryFailed = errors.New("query: execution failed")

// Options hold the per-dataset guard-rails.
type Options struct {
	// DefaultLimit is the row limit applied when the tool call does not ask
	// for one. Defaults to 5.
	DefaultLimit int

	// MaxLimit is the hard ceiling on any requested limit. Defaults to 50.
	MaxLimit int

	// ValueColumn is the numeric column min_value / max_value filter on.
	ValueColumn string

	// CategoryColumn is the categorical column the category filter applies to.
	CategoryColumn string
}

// Result is the outcome of one tool execution.
type Result struct {
	// Rows are the result rows, column-keyed.
	Rows []map[string]any

	// Count is len(Rows), kept explicit for synthesizer prompts.
	Count int

	// Effective records the parameters the query actually ran with, after
	// defaults and clamping. Dropped parameters do not appear.
	Effective map[string]any
}

// Executor runs the data tools against the dataset store.
type Executor struct {
	store *dataset.Store
	opts  Options
}

// New returns an Executor over store.
func New(store *dataset.Store, opts Options) *Executor {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 5
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 50
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	return &Executor{store: store, opts: opts}
}

// clampLimit applies the default and ceiling to a requested row limit.
func (e *Executor) clampLimit(requested int, ok bool) int {
	if !ok || requested <= 0 {
		return e.opts.DefaultLimit
	}
	if requested > e.opts.MaxLimit {
		return e.opts.MaxLimit
	}
	return requested
}

// --- parameter extraction helpers ---
//
// Tool parameters arrive as map[string]any after schema validation; these
// helpers tolerate the numeric types encoding/json and the resolver produce.

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func wrapDBErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrQueryFailed, op, err)
}
