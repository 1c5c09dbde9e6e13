package resolver

import (
	"reflect"
	"testing"
)

func knownTool(name string) bool {
	switch name {
	case "search_rows", "aggregate_stats", "lookup_definition":
		return true
	}
	return false
}

func TestParseProposalStrictJSON(t *testing.T) {
	raw := `{"tool": "search_rows", "parameters": {"limit": 3, "sort_order": "DESC"}, "reply": "Fetching rows."}`
	res := parseProposal(raw, knownTool)

	if res.Kind != KindToolCall {
		t.Fatalf("kind = %q, want tool call", res.Kind)
	}
	if res.Tool != "search_rows" {
		t.Errorf("tool = %q, want search_rows", res.Tool)
	}
	if res.Params["sort_order"] != "DESC" {
		t.Errorf("sort_order = %v, want DESC", res.Params["sort_order"])
	}
}

func TestParseProposalFencedJSON(t *testing.T) {
	raw := "```json\n{\"tool\": \"aggregate_stats\", \"parameters\": {\"group_by\": \"ocean_proximity\"}}\n```"
	res := parseProposal(raw, knownTool)

	if res.Kind != KindToolCall {
		t.Fatalf("kind = %q, want tool call", res.Kind)
	}
	if res.Tool != "aggregate_stats" {
		t.Errorf("tool = %q, want aggregate_stats", res.Tool)
	}
}

func TestParseProposalJSONEmbeddedInProse(t *testing.T) {
	raw := `Sure! Here is the tool call you need:
{"tool": "lookup_definition", "parameters": {"term": "median_income"}}
Let me know if you need anything else.`
	res := parseProposal(raw, knownTool)

	if res.Kind != KindToolCall {
		t.Fatalf("kind = %q, want tool call", res.Kind)
	}
	if res.Tool != "lookup_definition" {
		t.Errorf("tool = %q, want lookup_definition", res.Tool)
	}
	if res.Params["term"] != "median_income" {
		t.Errorf("term = %v, want median_income", res.Params["term"])
	}
}

func TestParseProposalSingleQuotes(t *testing.T) {
	raw := `{'tool': 'search_rows', 'parameters': {'category': 'INLAND'}}`
	res := parseProposal(raw, knownTool)

	if res.Kind != KindToolCall {
		t.Fatalf("kind = %q, want tool call", res.Kind)
	}
	if res.Params["category"] != "INLAND" {
		t.Errorf("category = %v, want INLAND", res.Params["category"])
	}
}

func TestParseProposalFlatShape(t *testing.T) {
	raw := `{"search_rows": {"limit": 2, "sort_by": "median_house_value"}}`
	res := parseProposal(raw, knownTool)

	if res.Kind != KindToolCall {
		t.Fatalf("kind = %q, want tool call", res.Kind)
	}
	if res.Tool != "search_rows" {
		t.Errorf("tool = %q, want search_rows", res.Tool)
	}
}

func TestParseProposalAlternateKeyNames(t *testing.T) {
	raw := `{"tool_name": "search_rows", "args": {"limit": 1}}`
	res := parseProposal(raw, knownTool)

	if res.Kind != KindToolCall || res.Tool != "search_rows" {
		t.Fatalf("got %+v, want search_rows tool call", res)
	}
	if _, ok := res.Params["limit"]; !ok {
		t.Error("args not picked up as parameters")
	}
}

func TestParseProposalEmptyToolIsConversational(t *testing.T) {
	raw := `{"tool": "", "reply": "Hi! Ask me about the dataset."}`
	res := parseProposal(raw, knownTool)

	if res.Kind != KindNoTool {
		t.Fatalf("kind = %q, want no tool", res.Kind)
	}
	if res.Reply != "Hi! Ask me about the dataset." {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestParseProposalGarbageFallsBackToReply(t *testing.T) {
	raw := "The most expensive homes are near the bay, generally speaking."
	res := parseProposal(raw, knownTool)

	if res.Kind != KindNoTool {
		t.Fatalf("kind = %q, want no tool", res.Kind)
	}
	if res.Reply != raw {
		t.Errorf("reply = %q, want the raw text", res.Reply)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{`{"a": 1}`, `{"a": 1}`},
		{"  {\"a\": 1}  ", `{"a": 1}`},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBraceSpanRespectsStrings(t *testing.T) {
	in := `prefix {"a": "close } brace", "b": {"c": 1}} suffix`
	want := `{"a": "close } brace", "b": {"c": 1}}`
	if got := braceSpan(in); got != want {
		t.Errorf("braceSpan = %q, want %q", got, want)
	}
	if got := braceSpan("no json here"); got != "" {
		t.Errorf("braceSpan on plain text = %q, want empty", got)
	}
}

func TestCoerceParam(t *testing.T) {
	cases := []struct {
		declType string
		in, want any
	}{
		{"number", "200000", 200000.0},
		{"number", "$200,000", 200000.0},
		{"integer", 3.0, 3},
		{"integer", "5", 5},
		{"integer", 2.5, 2.5}, // not a whole number, left for validation
		{"string", 42.0, "42"},
		{"number", "plenty", "plenty"},
	}
	for _, tc := range cases {
		if got := coerceParam(tc.declType, tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("coerceParam(%s, %v) = %v (%T), want %v (%T)",
				tc.declType, tc.in, got, got, tc.want, tc.want)
		}
	}
}
