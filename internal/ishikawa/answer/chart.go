package answer

import "strings"

// vegaLiteSchema is the spec version every chart declares.
const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v5.json"

// Chart is a self-contained Vega-Lite specification with inline data.
// Frontends render it directly; nothing model-generated appears in it.
type Chart struct {
	Schema      string         `json:"$schema"`
	Description string         `json:"description,omitempty"`
	Data        ChartData      `json:"data"`
	Mark        string         `json:"mark"`
	Encoding    map[string]any `json:"encoding"`
}

// ChartData carries the rows inline.
type ChartData struct {
	Values []map[string]any `json:"values"`
}

// chartCues are the words that signal the user wants a visualization.
var chartCues = []string{
	"chart", "plot", "graph", "visuali", "diagram", "draw",
}

// WantsChart reports whether the message asks for a visualization.
func WantsChart(message string) bool {
	m := strings.ToLower(message)
	for _, cue := range chartCues {
		if strings.Contains(m, cue) {
			return true
		}
	}
	return false
}

// markFor picks the Vega-Lite mark from phrasing cues. Bar is the default
// because grouped statistics are the common case.
func markFor(message string) string {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "pie") || strings.Contains(m, "donut"):
		return "arc"
	case strings.Contains(m, "line") || strings.Contains(m, "trend") || strings.Contains(m, "over time"):
		return "line"
	case strings.Contains(m, "scatter") || strings.Contains(m, "point"):
		return "circle"
	default:
		return "bar"
	}
}

// BuildChart renders grouped rows as a Vega-Lite spec. groupField names the
// column holding the group labels; the aggregate sits in the "value" column.
// The mark is chosen from the message phrasing. Returns nil when there is
// nothing to plot.
func BuildChart(message string, rows []map[string]any, groupField, title string) *Chart {
	if len(rows) == 0 {
		return nil
	}
	if groupField == "" {
		groupField = "group"
	}

	mark := markFor(message)
	encoding := map[string]any{}
	switch mark {
	case "arc":
		encoding["theta"] = map[string]any{"field": "value", "type": "quantitative"}
		encoding["color"] = map[string]any{"field": groupField, "type": "nominal"}
	default:
		encoding["x"] = map[string]any{"field": groupField, "type": "nominal", "sort": "-y"}
		encoding["y"] = map[string]any{"field": "value", "type": "quantitative"}
	}

	return &Chart{
		Schema:      vegaLiteSchema,
		Description: title,
		Data:        ChartData{Values: rows},
		Mark:        mark,
		Encoding:    encoding,
	}
}
