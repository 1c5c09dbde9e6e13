package tools

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistryKnowsBuiltinTools(t *testing.T) {
	r := MustRegistry()

	for _, name := range []string{SearchRows, AggregateStats, LookupDefinition} {
		if !r.Known(name) {
			t.Errorf("tool %q not registered", name)
		}
	}
	if r.Known("drop_table") {
		t.Error("unregistered tool reported as known")
	}

	if _, err := r.Spec("execute_sql"); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Spec(execute_sql) = %v, want ErrUnknownTool", err)
	}
}

func TestValidateParamAcceptsGoodValues(t *testing.T) {
	r := MustRegistry()
	spec, err := r.Spec(SearchRows)
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}

	cases := []struct {
		param string
		value any
	}{
		{"category", "INLAND"},
		{"min_value", 100000.0},
		{"max_value", 500001.0},
		{"limit", 10},
		{"sort_by", "median_house_value"},
		{"sort_order", "DESC"},
		{"sort_order", "asc"},
	}
	for _, tc := range cases {
		if err := spec.ValidateParam(tc.param, tc.value); err != nil {
			t.Errorf("ValidateParam(%s, %v) = %v, want nil", tc.param, tc.value, err)
		}
	}
}

func TestValidateParamRejectsBadValues(t *testing.T) {
	r := MustRegistry()
	spec, err := r.Spec(SearchRows)
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}

	cases := []struct {
		param string
		value any
	}{
		{"min_value", "cheap"},
		{"min_value", -5.0},
		{"limit", 0},
		{"limit", "many"},
		{"sort_order", "sideways"},
		{"category", ""},
	}
	for _, tc := range cases {
		if err := spec.ValidateParam(tc.param, tc.value); err == nil {
			t.Errorf("ValidateParam(%s, %v) = nil, want error", tc.param, tc.value)
		}
	}
}

func TestAggregateStatsParameterNames(t *testing.T) {
	r := MustRegistry()
	spec, err := r.Spec(AggregateStats)
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}

	got := spec.Parameters()
	want := []string{"agg_type", "group_by", "target_col"}
	if len(got) != len(want) {
		t.Fatalf("parameters = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parameters = %v, want %v", got, want)
		}
	}

	for _, p := range want {
		if err := spec.ValidateParam(p, "median_house_value"); err != nil {
			t.Errorf("ValidateParam(%s) = %v, want nil", p, err)
		}
	}
}

func TestValidateParamUnknownName(t *testing.T) {
	r := MustRegistry()
	spec, err := r.Spec(AggregateStats)
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	if err := spec.ValidateParam("order_by", "price"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("ValidateParam(order_by) = %v, want ErrUnknownParameter", err)
	}
}

func TestCatalogueListsEveryTool(t *testing.T) {
	r := MustRegistry()
	cat := r.Catalogue()
	for _, name := range r.Names() {
		if !strings.Contains(cat, name) {
			t.Errorf("catalogue missing tool %q", name)
		}
	}
	if !strings.Contains(cat, "sort_order") {
		t.Error("catalogue missing search_rows parameters")
	}
}
