// Package resolver turns a free-form user message into a bounded tool call.
//
// The resolver sits between the chat frontends and the query layer. Its sole
// responsibility is translation: show the model the dataset schema and the
// tool catalogue, ask for a JSON tool proposal, and validate that proposal
// against the registry before anything touches the database.
//
// Guard-rails enforced by this layer:
//   - The model only proposes tool calls; it never executes anything.
//   - Tool names outside the registry are rejected and the turn degrades to
//     a conversational reply.
//   - Parameters that fail their schema are dropped so the query layer falls
//     back to its defaults.
//   - Rate limiting bounds token spend per conversation thread.
package resolver

import (
	"context"
	"errors"
)

// ErrModelUnavailable is returned when the upstream model API cannot be
// reached or reports a server-side failure. Callers surface a fixed apology
// instead of failing the turn.
var ErrModelUnavailable = errors.New("resolver: model unavailable")

// ErrRateLimit is returned when the upstream API reports rate limiting
// (HTTP 429) or the per-thread limiter denies the call. Callers should tell
// the user to retry shortly rather than silently dropping the message.
var ErrRateLimit = errors.New("resolver: rate limit exceeded")

// User-visible fallback messages. Kept as constants so frontends and tests
// agree on the exact wording.
const (
	ApologyMessage = "I'm sorry, I'm having trouble reaching the language model right now. " +
		"Please try again in a moment."
	RateLimitMessage = "I'm receiving messages faster than I can handle. " +
		"Please wait a moment and try again."
)

// Message is a single prior turn injected into the model context window so
// follow-up questions resolve against earlier ones.
type Message struct {
	// Role is "user" or "assistant".
	Role string
	// Content is the message text.
	Content string
}

// CompletionRequest is the input to a single chat-completion call.
type CompletionRequest struct {
	// System is the instruction block sent as the system message.
	System string

	// History contains prior turns of the current thread, oldest first.
	// May be nil for a fresh thread.
	History []Message

	// User is the current user message.
	User string

	// ForceJSON requests JSON-mode output from the API. Set for tool
	// resolution, unset for prose synthesis.
	ForceJSON bool

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// Provider is the chat-completion backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
