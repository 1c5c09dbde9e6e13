// Package config loads and validates the Ishikawa configuration file.
//
// The file is YAML and holds non-secret, operator-tunable settings: where the
// dataset lives, which chat model to use, query guard-rails, and the optional
// HTTP / Matrix frontends. Credentials (the model API key, the Matrix access
// token) are never stored in the file — they are read from the environment so
// the config can be committed or shared without leaking secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes YAML scalars like "30s". Bare
// integers are taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Dataset describes the SQLite dataset the agent answers questions about.
type Dataset struct {
	// Path is the SQLite database file. Created on first run when CSVPath is
	// set and the file does not exist yet.
	Path string `yaml:"path"`

	// Table is the table holding the dataset rows.
	Table string `yaml:"table"`

	// CSVPath is an optional CSV source. When Path does not exist and CSVPath
	// does, the CSV is ingested into Table on startup.
	CSVPath string `yaml:"csv_path"`

	// SampleRows is how many rows are included in the schema context shown to
	// the model. Defaults to 3.
	SampleRows int `yaml:"sample_rows"`
}

// Model configures the OpenAI-compatible chat completions endpoint used for
// both intent resolution and answer synthesis.
type Model struct {
	// Endpoint is the API base URL. Defaults to https://api.openai.com/v1.
	// Point it at an Ollama or Azure deployment for local / private models.
	Endpoint string `yaml:"endpoint"`

	// Name is the chat model, e.g. "gpt-4o-mini".
	Name string `yaml:"name"`

	// Timeout bounds a single completion call. Defaults to 30s.
	Timeout Duration `yaml:"timeout"`
}

// Query holds the guard-rails applied when tool parameters are turned into SQL.
type Query struct {
	// DefaultLimit is the row limit applied when the tool call does not ask
	// for one. Defaults to 5.
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit is the hard ceiling on any row limit, whatever the tool call
	// says. Defaults to 50.
	MaxLimit int `yaml:"max_limit"`

	// SortColumns optionally restricts the sortable/groupable column
	// whitelist to a subset of the dataset's columns. When empty, every
	// dataset column is eligible.
	SortColumns []string `yaml:"sort_columns"`

	// ValueColumn is the numeric column that price/value phrasings ("most
	// expensive", "under 200k") map onto, e.g. "median_house_value".
	ValueColumn string `yaml:"value_column"`

	// CategoryColumn is the categorical column used for equality filters,
	// e.g. "ocean_proximity".
	CategoryColumn string `yaml:"category_column"`
}

// HTTP configures the inbound chat API server.
type HTTP struct {
	// Addr is the listen address (e.g. ":8080"). Empty disables the server.
	Addr string `yaml:"addr"`
}

// Matrix configures the optional Matrix chat gateway. All fields empty
// disables the gateway. The access token is read from
// ISHIKAWA_MATRIX_TOKEN, never from this file.
type Matrix struct {
	Homeserver string   `yaml:"homeserver"`
	UserID     string   `yaml:"user_id"`
	Rooms      []string `yaml:"rooms"`
}

// Config is the root of the Ishikawa configuration file.
type Config struct {
	Dataset Dataset `yaml:"dataset"`
	Model   Model   `yaml:"model"`
	Query   Query   `yaml:"query"`
	HTTP    HTTP    `yaml:"http"`
	Matrix  Matrix  `yaml:"matrix"`
}

// Parse decodes a YAML document into a Config, applies defaults, and
// validates it. It is the canonical entry point for loading configurations.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return Parse(data)
}

func (c *Config) applyDefaults() {
	if c.Dataset.SampleRows <= 0 {
		c.Dataset.SampleRows = 3
	}
	if c.Model.Endpoint == "" {
		c.Model.Endpoint = "https://api.openai.com/v1"
	}
	if c.Model.Name == "" {
		c.Model.Name = "gpt-4o-mini"
	}
	if c.Model.Timeout <= 0 {
		c.Model.Timeout = Duration(30 * time.Second)
	}
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = 5
	}
	if c.Query.MaxLimit <= 0 {
		c.Query.MaxLimit = 50
	}
}

// Validate checks a Config for structural correctness.
// It returns the first validation error encountered, or nil if the config is valid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}

	if strings.TrimSpace(cfg.Dataset.Path) == "" {
		return fmt.Errorf("dataset.path must not be empty")
	}
	if strings.TrimSpace(cfg.Dataset.Table) == "" {
		return fmt.Errorf("dataset.table must not be empty")
	}
	if !validIdentifier(cfg.Dataset.Table) {
		return fmt.Errorf("dataset.table %q is not a valid SQL identifier", cfg.Dataset.Table)
	}

	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		return fmt.Errorf("query.default_limit (%d) must not exceed query.max_limit (%d)",
			cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	}
	for i, col := range cfg.Query.SortColumns {
		if !validIdentifier(col) {
			return fmt.Errorf("query.sort_columns[%d] %q is not a valid SQL identifier", i, col)
		}
	}
	if cfg.Query.ValueColumn != "" && !validIdentifier(cfg.Query.ValueColumn) {
		return fmt.Errorf("query.value_column %q is not a valid SQL identifier", cfg.Query.ValueColumn)
	}
	if cfg.Query.CategoryColumn != "" && !validIdentifier(cfg.Query.CategoryColumn) {
		return fmt.Errorf("query.category_column %q is not a valid SQL identifier", cfg.Query.CategoryColumn)
	}

	// Matrix gateway is all-or-nothing: either fully configured or fully off.
	m := cfg.Matrix
	matrixSet := m.Homeserver != "" || m.UserID != "" || len(m.Rooms) > 0
	if matrixSet {
		if m.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver must be set when the Matrix gateway is enabled")
		}
		if m.UserID == "" {
			return fmt.Errorf("matrix.user_id must be set when the Matrix gateway is enabled")
		}
		if len(m.Rooms) == 0 {
			return fmt.Errorf("matrix.rooms must list at least one room when the Matrix gateway is enabled")
		}
	}

	return nil
}

// MatrixEnabled reports whether the Matrix gateway should be started.
func (c *Config) MatrixEnabled() bool {
	return c.Matrix.Homeserver != ""
}

// validIdentifier reports whether s is safe to appear as a SQL identifier:
// letters, digits, and underscores, not starting with a digit.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
