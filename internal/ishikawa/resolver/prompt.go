package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
)

// systemPromptTmpl is the instruction set sent as the "system" message.
// Five printf verbs are substituted at call time:
//  1. %s — table name
//  2. %s — column block (name, kind, stats, description per line)
//  3. %s — sample rows as JSON lines
//  4. %s — tool catalogue
//  5. %s — phrasing rules (value/category column mapping)
const systemPromptTmpl = `You are Ishikawa, a data analyst for a tabular dataset stored in SQLite.

Your only job is to translate the user's question into a structured JSON tool
proposal. You NEVER run SQL yourself and you never invent data.

Dataset table: %s
Columns:
%s
Sample rows:
%s

Available tools:
%s

RULES (strict, do not deviate):
1. Respond ONLY with a single JSON object. No markdown, no code fences, no
   text outside the JSON.
2. Use only the tool names listed above; do not invent tools or parameters.
3. When the question is about the data, respond with:
   {"tool": "<tool name>", "parameters": { ... }, "reply": "<one short sentence describing what you are fetching>"}
4. When no tool applies (greetings, questions unrelated to this dataset),
   respond with:
   {"tool": "", "reply": "<a brief friendly answer that steers the user back to the dataset>"}
5. Never propose destructive operations. The tools are read-only.
%s`

// PromptOptions parameterize the phrasing rules for the dataset at hand.
type PromptOptions struct {
	// ValueColumn is the numeric column that price or value phrasings map
	// onto ("most expensive", "under 200k").
	ValueColumn string

	// CategoryColumn is the categorical column equality filters map onto.
	CategoryColumn string

	// DefaultLimit is mentioned in the prompt so the model knows small row
	// counts are fine to omit.
	DefaultLimit int
}

// BuildSystemPrompt renders the system message shown to the model for tool
// resolution.
func BuildSystemPrompt(sc *dataset.Context, catalogue string, opts PromptOptions) string {
	return fmt.Sprintf(systemPromptTmpl,
		sc.Table,
		columnBlock(sc),
		sampleBlock(sc),
		catalogue,
		phrasingRules(sc, opts),
	)
}

func columnBlock(sc *dataset.Context) string {
	var b strings.Builder
	for _, col := range sc.Columns {
		fmt.Fprintf(&b, "  - %s (%s)", col.Name, col.Kind)
		switch col.Kind {
		case "numeric":
			fmt.Fprintf(&b, " range %.4g to %.4g, mean %.4g", col.Min, col.Max, col.Mean)
		case "categorical":
			fmt.Fprintf(&b, " values: %s", strings.Join(col.Values, ", "))
		}
		if col.Description != "" {
			fmt.Fprintf(&b, " — %s", col.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func sampleBlock(sc *dataset.Context) string {
	if len(sc.SampleRows) == 0 {
		return "  (none)"
	}
	var b strings.Builder
	for _, row := range sc.SampleRows {
		data, err := json.Marshal(row)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "  %s\n", data)
	}
	return strings.TrimRight(b.String(), "\n")
}

// phrasingRules spells out how common question shapes map to parameters.
// Worked examples anchor the mapping far better than abstract instructions.
func phrasingRules(sc *dataset.Context, opts PromptOptions) string {
	var b strings.Builder

	sortable := strings.Join(sc.SortableColumns(), ", ")
	fmt.Fprintf(&b, "6. sort_by and group_by must be one of: %s.\n", sortable)

	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = 5
	}
	fmt.Fprintf(&b, "7. Omit limit unless the user asks for a specific count; %d rows are returned by default.\n", limit)

	if opts.ValueColumn != "" {
		fmt.Fprintf(&b, "8. Phrases like \"most expensive\", \"costliest\", or \"highest value\" mean "+
			"sort_by=%q with sort_order=\"DESC\"; \"cheapest\" means sort_order=\"ASC\".\n", opts.ValueColumn)
		fmt.Fprintf(&b, "9. \"under X\" or \"below X\" sets max_value; \"over X\" or \"above X\" sets min_value. "+
			"Both apply to %s. Expand shorthand like \"200k\" to 200000.\n", opts.ValueColumn)
	}
	if opts.CategoryColumn != "" {
		fmt.Fprintf(&b, "10. Mentions of a %s value filter with the category parameter.\n", opts.CategoryColumn)
	}
	b.WriteString(`11. "average", "mean", "total", or "how many ... per ..." questions use aggregate_stats.
12. "what does X mean" or "define X" questions use lookup_definition.

Examples:
  User: show me the 3 costliest areas near the ocean
  You:  {"tool": "search_rows", "parameters": {"category": "NEAR OCEAN", "limit": 3, "sort_by": "` +
		valueOr(opts.ValueColumn, "value") + `", "sort_order": "DESC"}, "reply": "Fetching the 3 highest-value areas near the ocean."}

  User: average value by group
  You:  {"tool": "aggregate_stats", "parameters": {"group_by": "` +
		valueOr(opts.CategoryColumn, "category") + `", "target_col": "` +
		valueOr(opts.ValueColumn, "value") + `", "agg_type": "avg"}, "reply": "Computing the average per group."}

  User: hello there!
  You:  {"tool": "", "reply": "Hi! Ask me anything about the dataset, for example which areas are most expensive."}`)

	return b.String()
}

func valueOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
