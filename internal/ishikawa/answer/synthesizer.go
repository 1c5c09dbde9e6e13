// Package answer turns query results into user-facing replies: a prose
// summary written by the model, plus an optional deterministic chart.
//
// The model only ever sees rows that already came out of a guarded query; it
// rephrases them, it does not compute. The chart path involves no model at
// all, so a visualization can never contain invented numbers.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/query"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/resolver"
)

// synthesisPromptTmpl is the system message for the summary pass. Two printf
// verbs: the tool that produced the rows, and the effective parameters.
const synthesisPromptTmpl = `You are Ishikawa, a data analyst presenting query results to a non-technical user.

The rows below came from running the %s tool with these effective parameters: %s.

RULES:
1. Answer the user's question using ONLY the rows provided. Never invent values.
2. Be concise: two or three sentences.
3. Format large currency-like amounts with separators and a dollar sign
   (e.g. $452,600), and round long decimals to two places.
4. If zero rows matched, say so plainly and suggest loosening the filters.
5. Plain text only. No markdown, no JSON, no code.`

// Synthesizer produces the prose part of an answer.
type Synthesizer struct {
	provider resolver.Provider
}

// NewSynthesizer returns a Synthesizer backed by provider.
func NewSynthesizer(provider resolver.Provider) *Synthesizer {
	return &Synthesizer{provider: provider}
}

// Request carries everything the summary pass needs.
type Request struct {
	// Question is the original user message.
	Question string

	// Tool is the tool that produced Result.
	Tool string

	// Result is the executed query outcome.
	Result *query.Result

	// History contains prior turns for conversational continuity.
	History []resolver.Message
}

// Summarize asks the model to phrase the result as a short answer. The
// caller is responsible for falling back to FallbackSummary when the model
// is unavailable.
func (s *Synthesizer) Summarize(ctx context.Context, req Request) (string, error) {
	params, err := json.Marshal(req.Result.Effective)
	if err != nil {
		params = []byte("{}")
	}
	system := fmt.Sprintf(synthesisPromptTmpl, req.Tool, params)

	rows, err := json.Marshal(req.Result.Rows)
	if err != nil {
		return "", fmt.Errorf("answer: marshal rows: %w", err)
	}

	user := fmt.Sprintf("Question: %s\n\nRows (%d):\n%s", req.Question, req.Result.Count, rows)

	text, err := s.provider.Complete(ctx, resolver.CompletionRequest{
		System:  system,
		History: req.History,
		User:    user,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackSummary(req.Tool, req.Result), nil
	}
	return text, nil
}

// FallbackSummary renders a plain, deterministic answer from the rows for
// when the model cannot be reached. Less fluent, never wrong.
func FallbackSummary(tool string, res *query.Result) string {
	if res == nil || res.Count == 0 {
		return "No rows matched your question. Try loosening the filters."
	}

	var b strings.Builder
	switch tool {
	case "aggregate_stats":
		stat, _ := res.Effective["agg_type"].(string)
		if stat == "" {
			stat = "AVG"
		}
		groupField, _ := res.Effective["group_by"].(string)
		if groupField == "" {
			groupField = "group"
		}
		fmt.Fprintf(&b, "%s per %s:\n", stat, groupField)
		for _, row := range res.Rows {
			fmt.Fprintf(&b, "  %v: %s\n", row[groupField], formatValue(row["value"]))
		}
	default:
		fmt.Fprintf(&b, "Found %d matching rows:\n", res.Count)
		for _, row := range res.Rows {
			fmt.Fprintf(&b, "  %s\n", formatRow(row))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRow(row map[string]any) string {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	return string(data)
}

// formatValue prints numbers without the float noise JSON round-trips add.
func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%.2f", n)
	case int64:
		return fmt.Sprintf("%d", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}
