package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/tools"
)

// stubProvider returns a canned completion, recording the last request.
type stubProvider struct {
	output string
	err    error
	last   CompletionRequest
}

func (s *stubProvider) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.last = req
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func testSchema() *dataset.Context {
	return &dataset.Context{
		Table: "housing_data",
		Columns: []dataset.Column{
			{Name: "median_house_value", Kind: "numeric", Min: 14999, Max: 500001, Mean: 206855},
			{Name: "median_income", Kind: "numeric", Min: 0.5, Max: 15, Mean: 3.87},
			{Name: "ocean_proximity", Kind: "categorical", Values: []string{"INLAND", "NEAR BAY", "NEAR OCEAN"}},
		},
	}
}

func testOptions() PromptOptions {
	return PromptOptions{
		ValueColumn:    "median_house_value",
		CategoryColumn: "ocean_proximity",
		DefaultLimit:   5,
	}
}

func newTestResolver(p Provider) *Resolver {
	return New(p, tools.MustRegistry(), nil, testOptions())
}

func TestResolveValidToolCall(t *testing.T) {
	stub := &stubProvider{
		output: `{"tool": "search_rows", "parameters": {"category": "INLAND", "limit": 3}, "reply": "Fetching."}`,
	}
	r := newTestResolver(stub)

	res, err := r.Resolve(context.Background(), Request{
		Message:  "show me 3 inland areas",
		ThreadID: "1",
		Schema:   testSchema(),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Kind != KindToolCall || res.Tool != "search_rows" {
		t.Fatalf("got %+v, want search_rows tool call", res)
	}
	if res.Params["limit"] != 3 {
		t.Errorf("limit = %v (%T), want 3", res.Params["limit"], res.Params["limit"])
	}
	if !stub.last.ForceJSON {
		t.Error("resolution call should request JSON mode")
	}
	if !strings.Contains(stub.last.System, "housing_data") {
		t.Error("system prompt missing table name")
	}
	if !strings.Contains(stub.last.System, "search_rows") {
		t.Error("system prompt missing tool catalogue")
	}
}

func TestResolveUnknownToolDegradesToNoTool(t *testing.T) {
	stub := &stubProvider{output: `{"tool": "delete_rows", "parameters": {}}`}
	r := newTestResolver(stub)

	res, err := r.Resolve(context.Background(), Request{Message: "x", ThreadID: "1", Schema: testSchema()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Kind != KindNoTool {
		t.Fatalf("kind = %q, want no tool for unregistered tool name", res.Kind)
	}
	if res.Reply == "" {
		t.Error("degraded resolution should carry a user-facing reply")
	}
}

func TestResolveDropsInvalidParameters(t *testing.T) {
	stub := &stubProvider{
		output: `{"tool": "search_rows", "parameters": {"limit": "lots", "sort_order": "sideways", "category": "INLAND"}}`,
	}
	r := newTestResolver(stub)

	res, err := r.Resolve(context.Background(), Request{Message: "x", ThreadID: "1", Schema: testSchema()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Kind != KindToolCall {
		t.Fatalf("kind = %q, want tool call", res.Kind)
	}
	if _, ok := res.Params["limit"]; ok {
		t.Error("unparseable limit should be dropped")
	}
	if _, ok := res.Params["sort_order"]; ok {
		t.Error("invalid sort_order should be dropped")
	}
	if res.Params["category"] != "INLAND" {
		t.Error("valid category should survive")
	}
}

func TestResolveIgnoresUnknownParameters(t *testing.T) {
	stub := &stubProvider{
		output: `{"tool": "aggregate_stats", "parameters": {"group_by": "ocean_proximity", "order_by": "price"}}`,
	}
	r := newTestResolver(stub)

	res, err := r.Resolve(context.Background(), Request{Message: "x", ThreadID: "1", Schema: testSchema()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := res.Params["order_by"]; ok {
		t.Error("undeclared parameter should be dropped")
	}
	if res.Params["group_by"] != "ocean_proximity" {
		t.Error("declared parameter should survive")
	}
}

func TestResolveKeepsAggregateVocabulary(t *testing.T) {
	stub := &stubProvider{
		output: "I think you want ```json {\"tool\":\"aggregate_stats\",\"parameters\":" +
			"{\"group_by\":\"ocean_proximity\",\"target_col\":\"median_house_value\",\"agg_type\":\"sum\"}} ``` thanks!",
	}
	r := newTestResolver(stub)

	res, err := r.Resolve(context.Background(), Request{Message: "x", ThreadID: "1", Schema: testSchema()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Kind != KindToolCall || res.Tool != "aggregate_stats" {
		t.Fatalf("got %+v, want aggregate_stats tool call", res)
	}
	// Every parameter must survive validation; a dropped agg_type would make
	// the executor silently average instead of summing.
	if res.Params["target_col"] != "median_house_value" {
		t.Errorf("target_col = %v, want median_house_value", res.Params["target_col"])
	}
	if res.Params["agg_type"] != "sum" {
		t.Errorf("agg_type = %v, want sum", res.Params["agg_type"])
	}
	if res.Params["group_by"] != "ocean_proximity" {
		t.Errorf("group_by = %v, want ocean_proximity", res.Params["group_by"])
	}
}

func TestResolveCoercesNumericStrings(t *testing.T) {
	stub := &stubProvider{
		output: `{"tool": "search_rows", "parameters": {"max_value": "200000", "limit": "2"}}`,
	}
	r := newTestResolver(stub)

	res, err := r.Resolve(context.Background(), Request{Message: "x", ThreadID: "1", Schema: testSchema()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Params["max_value"] != 200000.0 {
		t.Errorf("max_value = %v (%T), want 200000.0", res.Params["max_value"], res.Params["max_value"])
	}
	if res.Params["limit"] != 2 {
		t.Errorf("limit = %v (%T), want 2", res.Params["limit"], res.Params["limit"])
	}
}

func TestResolvePropagatesModelErrors(t *testing.T) {
	stub := &stubProvider{err: ErrModelUnavailable}
	r := newTestResolver(stub)

	_, err := r.Resolve(context.Background(), Request{Message: "x", ThreadID: "1", Schema: testSchema()})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestResolveRateLimitsPerThread(t *testing.T) {
	stub := &stubProvider{output: `{"tool": "", "reply": "hi"}`}
	limiter := NewRateLimiter(2, time.Minute)
	r := New(stub, tools.MustRegistry(), limiter, testOptions())

	req := Request{Message: "x", ThreadID: "busy", Schema: testSchema()}
	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), req); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if _, err := r.Resolve(context.Background(), req); !errors.Is(err, ErrRateLimit) {
		t.Fatalf("third call err = %v, want ErrRateLimit", err)
	}

	// A different thread has its own budget.
	other := Request{Message: "x", ThreadID: "fresh", Schema: testSchema()}
	if _, err := r.Resolve(context.Background(), other); err != nil {
		t.Fatalf("other thread: %v", err)
	}
}

func TestResolvePassesHistoryThrough(t *testing.T) {
	stub := &stubProvider{output: `{"tool": "", "reply": "hi"}`}
	r := newTestResolver(stub)

	history := []Message{
		{Role: "user", Content: "show inland areas"},
		{Role: "assistant", Content: "Here are 5 inland areas."},
	}
	_, err := r.Resolve(context.Background(), Request{
		Message: "now the cheapest ones", ThreadID: "1",
		Schema: testSchema(), History: history,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(stub.last.History) != 2 {
		t.Fatalf("provider saw %d history messages, want 2", len(stub.last.History))
	}
}
