package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/answer"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/query"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/resolver"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/session"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/tools"
)

const testCSV = `district,median_house_value,median_income,ocean_proximity
a,452600,8.3252,NEAR BAY
b,358500,8.3014,NEAR BAY
c,352100,7.2574,INLAND
d,500001,5.1406,NEAR OCEAN
e,340000,4.0368,INLAND
`

// scriptedProvider replays canned completions in order. Once the script is
// exhausted it keeps returning the last entry.
type scriptedProvider struct {
	script []string
	errs   []error
	calls  int
}

func (p *scriptedProvider) Complete(_ context.Context, _ resolver.CompletionRequest) (string, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	if i < 0 {
		return "", nil
	}
	return p.script[i], nil
}

func newTestEngine(t *testing.T, provider resolver.Provider) (*Engine, *dataset.Store) {
	t.Helper()

	store, err := dataset.New(filepath.Join(t.TempDir(), "test.db"), dataset.Options{Table: "housing_data"})
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	csvPath := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(csvPath, []byte(testCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if _, err := store.IngestCSV(context.Background(), csvPath); err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}

	opts := resolver.PromptOptions{
		ValueColumn:    "median_house_value",
		CategoryColumn: "ocean_proximity",
		DefaultLimit:   5,
	}
	res := resolver.New(provider, tools.MustRegistry(), nil, opts)
	exec := query.New(store, query.Options{
		ValueColumn:    "median_house_value",
		CategoryColumn: "ocean_proximity",
	})
	synth := answer.NewSynthesizer(provider)
	metrics := NewMetrics(prometheus.NewRegistry())

	return New(store, res, exec, synth, session.NewStore(session.Config{}), metrics), store
}

func TestChatSearchTurn(t *testing.T) {
	provider := &scriptedProvider{script: []string{
		`{"tool": "search_rows", "parameters": {"category": "INLAND", "limit": 2, "sort_by": "median_house_value", "sort_order": "DESC"}}`,
		`The priciest inland districts are c at $352,100 and e at $340,000.`,
	}}
	e, _ := newTestEngine(t, provider)

	reply := e.Chat(context.Background(), "1", "show me the 2 priciest inland districts")
	if reply.Text != "The priciest inland districts are c at $352,100 and e at $340,000." {
		t.Errorf("text = %q", reply.Text)
	}
	if reply.Chart != nil {
		t.Error("search turn should not produce a chart")
	}
	if reply.TraceID == "" {
		t.Error("missing trace ID")
	}
	if provider.calls != 2 {
		t.Errorf("model calls = %d, want resolution + synthesis", provider.calls)
	}
}

func TestChatAggregateWithChart(t *testing.T) {
	provider := &scriptedProvider{script: []string{
		`{"tool": "aggregate_stats", "parameters": {"group_by": "ocean_proximity", "target_col": "median_house_value", "agg_type": "avg"}}`,
		`Near-ocean districts have the highest average value.`,
	}}
	e, _ := newTestEngine(t, provider)

	reply := e.Chat(context.Background(), "1", "plot the average house value by ocean proximity")
	if reply.Chart == nil {
		t.Fatal("aggregate turn with plot phrasing should carry a chart")
	}
	if reply.Chart.Mark != "bar" {
		t.Errorf("mark = %q, want bar default", reply.Chart.Mark)
	}
	if len(reply.Chart.Data.Values) != 3 {
		t.Errorf("chart rows = %d, want 3 groups", len(reply.Chart.Data.Values))
	}
	x, ok := reply.Chart.Encoding["x"].(map[string]any)
	if !ok {
		t.Fatal("bar chart missing x encoding")
	}
	if x["field"] != "ocean_proximity" {
		t.Errorf("x.field = %v, want the grouping column's name", x["field"])
	}
}

func TestChatAggregateWithoutChartKeywords(t *testing.T) {
	provider := &scriptedProvider{script: []string{
		`{"tool": "aggregate_stats", "parameters": {"group_by": "ocean_proximity"}}`,
		`Here are the averages.`,
	}}
	e, _ := newTestEngine(t, provider)

	reply := e.Chat(context.Background(), "1", "what is the average house value by ocean proximity?")
	if reply.Chart != nil {
		t.Error("no chart without visualization phrasing")
	}
}

func TestChatModelUnavailableApologizes(t *testing.T) {
	provider := &scriptedProvider{errs: []error{resolver.ErrModelUnavailable}}
	e, _ := newTestEngine(t, provider)

	reply := e.Chat(context.Background(), "1", "anything")
	if reply.Text != resolver.ApologyMessage {
		t.Errorf("text = %q, want the apology", reply.Text)
	}
}

func TestChatGarbageResolutionDegradesToReply(t *testing.T) {
	provider := &scriptedProvider{script: []string{
		"Honestly I think houses near the bay are nicer.",
	}}
	e, _ := newTestEngine(t, provider)

	reply := e.Chat(context.Background(), "1", "which houses are nicer?")
	if reply.Text != "Honestly I think houses near the bay are nicer." {
		t.Errorf("text = %q, want the raw model text as reply", reply.Text)
	}
	if provider.calls != 1 {
		t.Errorf("model calls = %d, want 1 (no synthesis for a no-tool turn)", provider.calls)
	}
}

func TestChatSynthesisFailureUsesFallback(t *testing.T) {
	provider := &scriptedProvider{
		script: []string{
			`{"tool": "search_rows", "parameters": {"limit": 1}}`,
			"",
		},
		errs: []error{nil, resolver.ErrModelUnavailable},
	}
	e, _ := newTestEngine(t, provider)

	reply := e.Chat(context.Background(), "1", "show me a district")
	if !strings.Contains(reply.Text, "Found 1 matching rows") {
		t.Errorf("text = %q, want deterministic fallback", reply.Text)
	}
}

func TestChatLookupDefinition(t *testing.T) {
	provider := &scriptedProvider{script: []string{
		`{"tool": "lookup_definition", "parameters": {"term": "median_income"}}`,
	}}
	e, store := newTestEngine(t, provider)

	err := store.SaveDescription(context.Background(), "median_income",
		"Median household income in tens of thousands of dollars.")
	if err != nil {
		t.Fatalf("SaveDescription: %v", err)
	}

	reply := e.Chat(context.Background(), "1", "what does median_income mean?")
	if !strings.Contains(reply.Text, "tens of thousands") {
		t.Errorf("text = %q, want the stored definition", reply.Text)
	}
	if provider.calls != 1 {
		t.Errorf("model calls = %d, want 1 (definitions skip synthesis)", provider.calls)
	}
}

func TestChatLookupDefinitionMiss(t *testing.T) {
	provider := &scriptedProvider{script: []string{
		`{"tool": "lookup_definition", "parameters": {"term": "flux capacitance"}}`,
	}}
	e, _ := newTestEngine(t, provider)

	reply := e.Chat(context.Background(), "1", "define flux capacitance")
	if reply.Text != noDefinitionMessage {
		t.Errorf("text = %q, want the no-definition message", reply.Text)
	}
}

func TestChatDatabaseFailureDegrades(t *testing.T) {
	provider := &scriptedProvider{script: []string{
		`{"tool": "", "reply": "hi"}`,
		`{"tool": "search_rows", "parameters": {}}`,
	}}
	e, store := newTestEngine(t, provider)

	// Warm the schema cache, then break the database underneath.
	e.Chat(context.Background(), "1", "hello")
	store.DB().Close()

	reply := e.Chat(context.Background(), "1", "show me rows")
	if reply.Text != queryFailedMessage {
		t.Errorf("text = %q, want the query-failed message", reply.Text)
	}
}

func TestChatRecordsHistoryPerThread(t *testing.T) {
	provider := &scriptedProvider{script: []string{`{"tool": "", "reply": "hello!"}`}}
	e, _ := newTestEngine(t, provider)

	e.Chat(context.Background(), "a", "hi")
	reply := e.Chat(context.Background(), "", "hi there")

	if reply.ThreadID != DefaultThreadID {
		t.Errorf("thread = %q, want default %q", reply.ThreadID, DefaultThreadID)
	}
}
