package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
dataset:
  path: ./housing.db
  table: housing_data
  csv_path: ./housing.csv
model:
  name: gpt-4o-mini
query:
  sort_columns: [median_house_value, median_income]
  value_column: median_house_value
  category_column: ocean_proximity
http:
  addr: ":8080"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Model.Endpoint != "https://api.openai.com/v1" {
		t.Errorf("endpoint = %q", cfg.Model.Endpoint)
	}
	if time.Duration(cfg.Model.Timeout) != 30*time.Second {
		t.Errorf("timeout = %v", time.Duration(cfg.Model.Timeout))
	}
	if cfg.Query.DefaultLimit != 5 {
		t.Errorf("default_limit = %d", cfg.Query.DefaultLimit)
	}
	if cfg.Query.MaxLimit != 50 {
		t.Errorf("max_limit = %d", cfg.Query.MaxLimit)
	}
	if cfg.Dataset.SampleRows != 3 {
		t.Errorf("sample_rows = %d", cfg.Dataset.SampleRows)
	}
	if cfg.MatrixEnabled() {
		t.Error("matrix should be disabled by default")
	}
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing path",
			yaml: "dataset:\n  table: t\n",
			want: "dataset.path",
		},
		{
			name: "missing table",
			yaml: "dataset:\n  path: ./x.db\n",
			want: "dataset.table",
		},
		{
			name: "unsafe table name",
			yaml: "dataset:\n  path: ./x.db\n  table: \"x; DROP TABLE y\"\n",
			want: "not a valid SQL identifier",
		},
		{
			name: "unsafe sort column",
			yaml: "dataset:\n  path: ./x.db\n  table: t\nquery:\n  sort_columns: [\"a b\"]\n",
			want: "sort_columns",
		},
		{
			name: "limit above ceiling",
			yaml: "dataset:\n  path: ./x.db\n  table: t\nquery:\n  default_limit: 100\n  max_limit: 10\n",
			want: "default_limit",
		},
		{
			name: "partial matrix config",
			yaml: "dataset:\n  path: ./x.db\n  table: t\nmatrix:\n  homeserver: https://m.example.com\n",
			want: "matrix.user_id",
		},
	}

	for _, tc := range cases {
		_, err := Parse([]byte(tc.yaml))
		if err == nil {
			t.Errorf("%s: Parse succeeded, want error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
}

func TestParseDurationForms(t *testing.T) {
	cases := []struct {
		yaml string
		want time.Duration
	}{
		{"model:\n  timeout: 45s\n", 45 * time.Second},
		{"model:\n  timeout: 2m\n", 2 * time.Minute},
		{"model:\n  timeout: 10\n", 10 * time.Second},
	}
	for _, tc := range cases {
		cfg, err := Parse([]byte("dataset:\n  path: ./x.db\n  table: t\n" + tc.yaml))
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.yaml, err)
			continue
		}
		if time.Duration(cfg.Model.Timeout) != tc.want {
			t.Errorf("timeout = %v, want %v", time.Duration(cfg.Model.Timeout), tc.want)
		}
	}

	if _, err := Parse([]byte("dataset:\n  path: ./x.db\n  table: t\nmodel:\n  timeout: soon\n")); err == nil {
		t.Error("unparseable duration accepted")
	}
}

func TestParseMatrixAllOrNothing(t *testing.T) {
	yaml := validYAML + `
matrix:
  homeserver: https://matrix.example.com
  user_id: "@ishikawa:example.com"
  rooms: ["!room:example.com"]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.MatrixEnabled() {
		t.Error("fully configured matrix section should enable the gateway")
	}
}

func TestValidIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"housing_data", true},
		{"Col9", true},
		{"_private", true},
		{"9lives", false},
		{"drop table", false},
		{"", false},
		{`a"b`, false},
	}
	for _, tc := range cases {
		if got := validIdentifier(tc.in); got != tc.want {
			t.Errorf("validIdentifier(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
