package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/tools"
)

// Request is the input to one resolution pass.
type Request struct {
	// Message is the raw user text.
	Message string

	// ThreadID identifies the conversation for rate limiting.
	ThreadID string

	// Schema is the current dataset schema context.
	Schema *dataset.Context

	// History contains prior turns of this thread, oldest first.
	History []Message
}

// Resolver wraps a Provider with prompt construction, output parsing, and
// validation against the tool registry.
//
// Three layers of enforcement sit on top of the raw model output:
//  1. Tool-name validation: a proposal naming an unregistered tool degrades
//     to a conversational reply instead of reaching the query layer.
//  2. Parameter coercion: numeric values arriving as strings ("3", "200000")
//     are converted before schema validation.
//  3. Parameter validation: values that fail the tool's schema are dropped,
//     one at a time, so the query layer falls back to its defaults.
type Resolver struct {
	provider Provider
	registry *tools.Registry
	limiter  *RateLimiter
	opts     PromptOptions
}

// New returns a Resolver backed by provider. limiter may be nil to disable
// per-thread rate limiting.
func New(provider Provider, registry *tools.Registry, limiter *RateLimiter, opts PromptOptions) *Resolver {
	return &Resolver{
		provider: provider,
		registry: registry,
		limiter:  limiter,
		opts:     opts,
	}
}

// Resolve maps a user message to a validated Resolution.
//
// Model-side failures surface as errors (ErrModelUnavailable, ErrRateLimit)
// for the caller to turn into user-facing fallbacks. Parse and validation
// failures never surface as errors: they degrade to KindNoTool.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	if r.limiter != nil && !r.limiter.Allow(req.ThreadID) {
		return nil, fmt.Errorf("%w: thread %s", ErrRateLimit, req.ThreadID)
	}

	system := BuildSystemPrompt(req.Schema, r.registry.Catalogue(), r.opts)
	raw, err := r.provider.Complete(ctx, CompletionRequest{
		System:    system,
		History:   req.History,
		User:      req.Message,
		ForceJSON: true,
	})
	if err != nil {
		return nil, err
	}

	res := parseProposal(raw, r.registry.Known)
	if res.Kind == KindNoTool {
		if res.Reply == "" {
			res.Reply = "I couldn't relate that to the dataset. Could you rephrase your question?"
		}
		return &res, nil
	}

	spec, err := r.registry.Spec(res.Tool)
	if err != nil {
		slog.Warn("model proposed unregistered tool", "tool", res.Tool, "thread", req.ThreadID)
		return &Resolution{
			Kind: KindNoTool,
			Reply: fmt.Sprintf("I don't have a %q capability. I can search rows, "+
				"compute statistics, or explain what a column means.", res.Tool),
		}, nil
	}

	res.Params = r.sanitizeParams(spec, res.Params, req.ThreadID)
	return &res, nil
}

// sanitizeParams coerces and validates each proposed parameter, dropping the
// ones that fail so the rest of the call survives.
func (r *Resolver) sanitizeParams(spec *tools.Spec, params map[string]any, threadID string) map[string]any {
	clean := make(map[string]any, len(params))
	for name, value := range params {
		value = coerceParam(spec.ParamType(name), value)
		if err := spec.ValidateParam(name, value); err != nil {
			slog.Warn("dropping invalid tool parameter",
				"tool", spec.Name, "param", name, "value", value,
				"thread", threadID, "err", err)
			continue
		}
		clean[name] = value
	}
	return clean
}

// coerceParam converts model output to the declared parameter type where the
// conversion is unambiguous. Anything unconvertible is returned as-is and
// left for schema validation to reject.
func coerceParam(declType string, value any) any {
	switch declType {
	case "number":
		switch v := value.(type) {
		case string:
			if n, err := strconv.ParseFloat(cleanNumber(v), 64); err == nil {
				return n
			}
		}
	case "integer":
		switch v := value.(type) {
		case float64:
			if v == math.Trunc(v) {
				return int(v)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	case "string":
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return value
}

// cleanNumber strips currency symbols and digit separators so "$200,000"
// parses as 200000.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	return strings.ReplaceAll(s, ",", "")
}
