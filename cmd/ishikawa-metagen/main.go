// Command ishikawa-metagen generates the dataset's data dictionary: one
// model-written description per column, plus a grouping map that clusters
// related columns. The proposal is printed for review and only persisted on
// confirmation (or with -yes).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bdobrica/Ishikawa/common/environment"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/config"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/resolver"
)

const metagenPromptTmpl = `You are documenting a tabular dataset for a chat agent.

Dataset table: %s
Columns:
%s
Sample rows:
%s

Respond ONLY with a JSON object of this exact shape:
{
  "descriptions": {"<column name>": "<one plain-English sentence describing the column>", ...},
  "groups": {"<short group label>": ["<column name>", ...], ...}
}

Every column must appear in descriptions. Group labels should be everyday
words (e.g. "location", "economics"); every column belongs to exactly one group.`

// proposal is the JSON document the model returns.
type proposal struct {
	Descriptions map[string]string   `json:"descriptions"`
	Groups       map[string][]string `json:"groups"`
}

func main() {
	configPath := flag.String("config", environment.StringOr("ISHIKAWA_CONFIG", "./ishikawa.yaml"),
		"path to the configuration file")
	autoApply := flag.Bool("yes", false, "persist without asking for confirmation")
	flag.Parse()

	if err := run(*configPath, *autoApply); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, autoApply bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	apiKey, err := environment.RequiredString("ISHIKAWA_MODEL_API_KEY")
	if err != nil {
		return err
	}

	store, err := dataset.New(cfg.Dataset.Path, dataset.Options{
		Table:      cfg.Dataset.Table,
		SampleRows: cfg.Dataset.SampleRows,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sc, err := store.Describe(ctx)
	if err != nil {
		return err
	}

	provider := resolver.NewProvider(resolver.Config{
		APIKey:  apiKey,
		BaseURL: cfg.Model.Endpoint,
		Model:   cfg.Model.Name,
		Timeout: time.Duration(cfg.Model.Timeout),
	})

	prop, err := generate(ctx, provider, sc)
	if err != nil {
		return err
	}

	printProposal(prop)

	if !autoApply && !confirm() {
		fmt.Println("Not applied.")
		return nil
	}

	for col, desc := range prop.Descriptions {
		if sc.Column(col) == nil {
			fmt.Printf("skipping description for unknown column %q\n", col)
			continue
		}
		if err := store.SaveDescription(ctx, col, desc); err != nil {
			return err
		}
	}
	if len(prop.Groups) > 0 {
		if err := store.SaveGroupings(ctx, prop.Groups); err != nil {
			return err
		}
	}
	fmt.Println("Applied.")
	return nil
}

// generate asks the model for the dictionary proposal.
func generate(ctx context.Context, provider resolver.Provider, sc *dataset.Context) (*proposal, error) {
	var cols strings.Builder
	for _, c := range sc.Columns {
		fmt.Fprintf(&cols, "  - %s (%s)\n", c.Name, c.Kind)
	}
	var samples strings.Builder
	for _, row := range sc.SampleRows {
		data, err := json.Marshal(row)
		if err != nil {
			continue
		}
		fmt.Fprintf(&samples, "  %s\n", data)
	}

	raw, err := provider.Complete(ctx, resolver.CompletionRequest{
		User:      fmt.Sprintf(metagenPromptTmpl, sc.Table, cols.String(), samples.String()),
		ForceJSON: true,
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, err
	}

	var prop proposal
	if err := json.Unmarshal([]byte(raw), &prop); err != nil {
		return nil, fmt.Errorf("model returned unparseable metadata: %w", err)
	}
	if len(prop.Descriptions) == 0 {
		return nil, fmt.Errorf("model returned no column descriptions")
	}
	return &prop, nil
}

func printProposal(prop *proposal) {
	fmt.Println("Proposed column descriptions:")
	cols := make([]string, 0, len(prop.Descriptions))
	for col := range prop.Descriptions {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		fmt.Printf("  %-24s %s\n", col, prop.Descriptions[col])
	}

	fmt.Println("\nProposed groupings:")
	labels := make([]string, 0, len(prop.Groups))
	for label := range prop.Groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("  %-16s %s\n", label, strings.Join(prop.Groups[label], ", "))
	}
	fmt.Println()
}

func confirm() bool {
	fmt.Print("Apply? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
