// Package engine runs one chat turn end to end: resolve the message into a
// tool call, execute it against the dataset, synthesize the answer, and
// record the turn in session history.
//
// A turn never fails. Every error along the pipeline degrades to a
// user-facing message: model outages become a fixed apology, database
// problems become a plain explanation, and malformed model output becomes a
// conversational reply.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bdobrica/Ishikawa/common/trace"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/answer"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/query"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/resolver"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/session"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/tools"
)

// DefaultThreadID is used when a frontend does not supply a thread.
const DefaultThreadID = "1"

// User-facing degradation messages for data-side failures.
const (
	dataUnavailableMessage = "The dataset isn't available right now, so I can't answer data questions. " +
		"Please try again later."
	queryFailedMessage = "I ran into a problem querying the dataset. " +
		"Try rephrasing the question or asking for something simpler."
	noDefinitionMessage = "I don't have a definition for that term. " +
		"Ask me about one of the dataset's columns."
)

// Reply is the outcome of one chat turn: prose, plus an optional chart when
// the user asked for a visualization of grouped results.
type Reply struct {
	Text     string        `json:"text"`
	Chart    *answer.Chart `json:"chart,omitempty"`
	ThreadID string        `json:"thread_id"`
	TraceID  string        `json:"trace_id"`
}

// Engine wires the pipeline stages together.
type Engine struct {
	store    *dataset.Store
	resolver *resolver.Resolver
	executor *query.Executor
	synth    *answer.Synthesizer
	sessions *session.Store
	metrics  *Metrics
}

// New returns an Engine over the given stages. metrics may be nil.
func New(
	store *dataset.Store,
	res *resolver.Resolver,
	exec *query.Executor,
	synth *answer.Synthesizer,
	sessions *session.Store,
	metrics *Metrics,
) *Engine {
	return &Engine{
		store:    store,
		resolver: res,
		executor: exec,
		synth:    synth,
		sessions: sessions,
		metrics:  metrics,
	}
}

// Chat processes one user message on a thread and always produces a Reply.
// Turns within a thread run one at a time; independent threads run
// concurrently.
func (e *Engine) Chat(ctx context.Context, threadID, message string) *Reply {
	if threadID == "" {
		threadID = DefaultThreadID
	}

	release := e.sessions.Acquire(threadID)
	defer release()

	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)
	start := time.Now()

	// History is captured before the current message so the resolver sees
	// prior turns as context and the message itself as the question. The
	// window keeps the prompt bounded; the stored history stays complete.
	history := toMessages(e.sessions.Recent(threadID))
	e.sessions.Append(threadID, "user", message)

	text, chart, outcome := e.answer(ctx, threadID, message, history)

	e.sessions.Append(threadID, "assistant", text)
	e.metrics.observeTurn(outcome, time.Since(start).Seconds())

	slog.Info("chat turn complete",
		"trace_id", traceID, "thread", threadID,
		"outcome", outcome, "duration", time.Since(start))

	return &Reply{Text: text, Chart: chart, ThreadID: threadID, TraceID: traceID}
}

// answer runs resolution and execution, mapping every failure to a
// user-facing message. The returned outcome labels the turn for metrics.
func (e *Engine) answer(ctx context.Context, threadID, message string, history []resolver.Message) (string, *answer.Chart, string) {
	schema, err := e.store.Describe(ctx)
	if err != nil {
		slog.Error("schema context unavailable", "thread", threadID, "err", err)
		return dataUnavailableMessage, nil, "data_unavailable"
	}

	res, err := e.resolver.Resolve(ctx, resolver.Request{
		Message:  message,
		ThreadID: threadID,
		Schema:   schema,
		History:  history,
	})
	switch {
	case errors.Is(err, resolver.ErrRateLimit):
		return resolver.RateLimitMessage, nil, "rate_limited"
	case err != nil:
		slog.Error("intent resolution failed", "thread", threadID, "err", err)
		return resolver.ApologyMessage, nil, "model_unavailable"
	}

	if res.Kind == resolver.KindNoTool {
		return res.Reply, nil, "no_tool"
	}

	return e.runTool(ctx, threadID, message, res, history)
}

// runTool executes the resolved tool call and synthesizes the reply.
func (e *Engine) runTool(ctx context.Context, threadID, message string, res *resolver.Resolution, history []resolver.Message) (string, *answer.Chart, string) {
	var (
		result *query.Result
		err    error
	)

	switch res.Tool {
	case tools.SearchRows:
		result, err = e.executor.SearchRows(ctx, res.Params)
	case tools.AggregateStats:
		result, err = e.executor.AggregateStats(ctx, res.Params)
	case tools.LookupDefinition:
		return e.lookupDefinition(ctx, threadID, res.Params)
	default:
		// The resolver already validated the name; reaching here means the
		// registry and this switch disagree.
		slog.Error("tool has no executor", "tool", res.Tool)
		return queryFailedMessage, nil, "tool_error"
	}

	if err != nil {
		e.metrics.observeTool(res.Tool, "error")
		slog.Error("tool execution failed", "tool", res.Tool, "thread", threadID, "err", err)
		if errors.Is(err, dataset.ErrDataUnavailable) {
			return dataUnavailableMessage, nil, "data_unavailable"
		}
		return queryFailedMessage, nil, "query_failed"
	}
	e.metrics.observeTool(res.Tool, "ok")

	var chart *answer.Chart
	if res.Tool == tools.AggregateStats && answer.WantsChart(message) {
		groupField, _ := result.Effective["group_by"].(string)
		chart = answer.BuildChart(message, result.Rows, groupField, message)
	}

	text, err := e.synth.Summarize(ctx, answer.Request{
		Question: message,
		Tool:     res.Tool,
		Result:   result,
		History:  history,
	})
	if err != nil {
		// The data is already in hand; degrade to the deterministic
		// formatter instead of apologizing.
		slog.Warn("synthesis failed, using fallback summary", "thread", threadID, "err", err)
		return answer.FallbackSummary(res.Tool, result), chart, "fallback_summary"
	}
	return text, chart, "tool_call"
}

func (e *Engine) lookupDefinition(ctx context.Context, threadID string, params map[string]any) (string, *answer.Chart, string) {
	term, _ := params["term"].(string)
	def, err := e.store.LookupDefinition(ctx, term)
	switch {
	case errors.Is(err, dataset.ErrNoDefinition):
		e.metrics.observeTool(tools.LookupDefinition, "miss")
		return noDefinitionMessage, nil, "no_definition"
	case err != nil:
		e.metrics.observeTool(tools.LookupDefinition, "error")
		slog.Error("definition lookup failed", "thread", threadID, "err", err)
		return dataUnavailableMessage, nil, "data_unavailable"
	}
	e.metrics.observeTool(tools.LookupDefinition, "ok")
	return def, nil, "tool_call"
}

func toMessages(turns []session.Turn) []resolver.Message {
	if len(turns) == 0 {
		return nil
	}
	out := make([]resolver.Message, len(turns))
	for i, t := range turns {
		out[i] = resolver.Message{Role: t.Role, Content: t.Content}
	}
	return out
}
