// Package session keeps per-thread conversation state so follow-up questions
// resolve against earlier turns. History grows until the thread is cleared;
// the configured limits only bound the window handed to prompt assembly.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config bounds the history window returned by Recent. Stored history is
// never trimmed; the limits only decide how much of it reaches the model.
type Config struct {
	// MaxTurns is the maximum number of turns Recent returns. Default: 40.
	MaxTurns int

	// MaxTokens is the estimated token budget for the Recent window. Default:
	// 6000.
	MaxTokens int
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:  40,
		MaxTokens: 6000,
	}
}

// Turn is a single message in a thread.
type Turn struct {
	Role    string    // "user" or "assistant"
	Content string    // message text
	At      time.Time // when the turn was recorded
}

// thread is the state for one conversation.
type thread struct {
	id    string // unique conversation ID (UUID)
	turns []Turn
	busy  sync.Mutex // serializes engine turns within the thread
}

// Store holds every active thread. Safe for concurrent use; turns within a
// thread stay strictly ordered, independent threads never block each other.
type Store struct {
	mu      sync.Mutex
	config  Config
	threads map[string]*thread
}

// NewStore creates a Store with the given configuration.
func NewStore(cfg Config) *Store {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Store{
		config:  cfg,
		threads: make(map[string]*thread),
	}
}

// Append records a turn at the end of the thread, creating the thread on
// first use. Returns the thread's conversation ID.
func (s *Store) Append(threadID, role, content string) string {
	return s.appendAt(threadID, role, content, time.Now())
}

// appendAt is the time-injectable core of Append (for testing).
func (s *Store) appendAt(threadID, role, content string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threads[threadID]
	if t == nil {
		t = &thread{id: uuid.New().String()}
		s.threads[threadID] = t
	}

	t.turns = append(t.turns, Turn{Role: role, Content: content, At: now})
	return t.id
}

// History returns a copy of the thread's full turn record, oldest first.
// Returns nil for an unknown thread.
func (s *Store) History(threadID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threads[threadID]
	if t == nil {
		return nil
	}
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Recent returns the newest turns that fit the configured window, oldest
// first. This is the view handed to prompt assembly; History keeps the
// complete record.
func (s *Store) Recent(threadID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threads[threadID]
	if t == nil {
		return nil
	}

	turns := t.turns
	if len(turns) > s.config.MaxTurns {
		turns = turns[len(turns)-s.config.MaxTurns:]
	}
	for len(turns) > 1 && estimateTokens(turns) > s.config.MaxTokens {
		turns = turns[1:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// ConversationID returns the thread's stable conversation ID, or "" for an
// unknown thread.
func (s *Store) ConversationID(threadID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.threads[threadID]; t != nil {
		return t.id
	}
	return ""
}

// Clear drops the thread's history and assigns a fresh conversation ID. The
// thread entry itself survives so a turn already holding the thread's lock
// keeps excluding concurrent turns on the same thread.
func (s *Store) Clear(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threads[threadID]
	if t == nil {
		return
	}
	t.turns = nil
	t.id = uuid.New().String()
}

// Acquire blocks until the caller holds the thread's turn lock and returns
// the release function. Turns within a thread run one at a time so history
// stays ordered even when a frontend delivers messages concurrently.
func (s *Store) Acquire(threadID string) (release func()) {
	s.mu.Lock()
	t := s.threads[threadID]
	if t == nil {
		t = &thread{id: uuid.New().String()}
		s.threads[threadID] = t
	}
	s.mu.Unlock()

	t.busy.Lock()
	return t.busy.Unlock
}

// estimateTokens returns a rough token count for a turn slice. Uses ~4
// characters per token plus a small per-turn overhead for role framing. The
// budget is a soft limit to keep the context window bounded.
func estimateTokens(turns []Turn) int {
	const charsPerToken = 4
	const perTurnOverhead = 4

	total := 0
	for _, t := range turns {
		total += len(t.Content)/charsPerToken + perTurnOverhead
	}
	return total
}
