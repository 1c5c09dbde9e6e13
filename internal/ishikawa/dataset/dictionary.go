package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoDefinition is returned by LookupDefinition when no description is
// stored for the requested term.
var ErrNoDefinition = errors.New("dataset: no definition stored")

// groupingKey is the row key under which the single grouping document lives.
const groupingKey = "main_grouping"

// SaveDescription upserts the dictionary entry for a column.
func (s *Store) SaveDescription(ctx context.Context, column, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_context (column_name, description, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(column_name) DO UPDATE SET
			description = excluded.description,
			updated_at = CURRENT_TIMESTAMP
	`, column, description)
	if err != nil {
		return fmt.Errorf("dataset: save description: %w", err)
	}
	s.invalidate()
	return nil
}

// loadDescriptions returns every stored column description keyed by column name.
func (s *Store) loadDescriptions(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT column_name, description FROM ai_context`)
	if err != nil {
		return nil, fmt.Errorf("dataset: load descriptions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var col, desc string
		if err := rows.Scan(&col, &desc); err != nil {
			return nil, fmt.Errorf("dataset: scan description: %w", err)
		}
		out[col] = desc
	}
	return out, rows.Err()
}

// SaveGroupings replaces the stored grouping map, a JSON document mapping a
// group label to the columns that belong to it.
func (s *Store) SaveGroupings(ctx context.Context, groupings map[string][]string) error {
	data, err := json.Marshal(groupings)
	if err != nil {
		return fmt.Errorf("dataset: marshal groupings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_groups (key, json_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			json_data = excluded.json_data,
			updated_at = CURRENT_TIMESTAMP
	`, groupingKey, string(data))
	if err != nil {
		return fmt.Errorf("dataset: save groupings: %w", err)
	}
	s.invalidate()
	return nil
}

// loadGroupings returns the stored grouping map, or an empty map when none
// has been generated yet.
func (s *Store) loadGroupings(ctx context.Context) (map[string][]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json_data FROM ai_groups WHERE key = ?`, groupingKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: load groupings: %w", err)
	}

	var groupings map[string][]string
	if err := json.Unmarshal([]byte(data), &groupings); err != nil {
		return nil, fmt.Errorf("dataset: decode groupings: %w", err)
	}
	return groupings, nil
}

// LookupDefinition resolves a free-text term against the data dictionary.
// Matching is case-insensitive and tolerant of spaces instead of underscores;
// an exact column match wins, then a substring match against column names,
// then a match against grouping labels.
func (s *Store) LookupDefinition(ctx context.Context, term string) (string, error) {
	sc, err := s.Describe(ctx)
	if err != nil {
		return "", err
	}

	needle := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(term)), " ", "_")
	if needle == "" {
		return "", ErrNoDefinition
	}

	if col := sc.Column(needle); col != nil && col.Description != "" {
		return col.Description, nil
	}

	for _, col := range sc.Columns {
		if strings.Contains(col.Name, needle) && col.Description != "" {
			return fmt.Sprintf("%s: %s", col.Name, col.Description), nil
		}
	}

	// Grouping labels answer "what do you mean by demographics" style asks.
	labels := make([]string, 0, len(sc.Groupings))
	for label := range sc.Groupings {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if strings.Contains(strings.ReplaceAll(strings.ToLower(label), " ", "_"), needle) {
			return fmt.Sprintf("%s covers the columns: %s",
				label, strings.Join(sc.Groupings[label], ", ")), nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrNoDefinition, term)
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
