package resolver

import (
	"encoding/json"
	"strings"
)

// Resolution is the validated outcome of one resolution pass.
//
// Kind == KindToolCall  → Tool and Params are populated.
// Kind == KindNoTool    → Reply carries the conversational text to show.
type Resolution struct {
	Kind   Kind
	Tool   string
	Params map[string]any
	Reply  string
}

// Kind describes what the resolver decided to do with the message.
type Kind string

const (
	// KindToolCall means a registered tool should run with Params.
	KindToolCall Kind = "tool_call"
	// KindNoTool means no tool applies; answer conversationally.
	KindNoTool Kind = "no_tool"
)

// rawProposal is the wire shape the model is asked to produce. The alternate
// key names cover the common ways models drift from the requested format.
type rawProposal struct {
	Tool     string         `json:"tool"`
	ToolName string         `json:"tool_name"`
	Name     string         `json:"name"`
	Params   map[string]any `json:"parameters"`
	Args     map[string]any `json:"args"`
	Reply    string         `json:"reply"`
	Response string         `json:"response"`
}

// parseProposal interprets raw model output as a tool proposal. It never
// fails: each recovery stage is tried in order and when nothing yields a
// usable proposal the raw text is returned as a conversational reply.
//
// Stages:
//  1. Strip markdown code fences.
//  2. Strict JSON decode.
//  3. Decode the first balanced {...} span inside surrounding prose.
//  4. Lenient decode with single quotes rewritten to double quotes.
//  5. Flat shape: a single top-level key that names a tool, with the
//     parameters as its value.
func parseProposal(raw string, knownTool func(string) bool) Resolution {
	text := stripFences(raw)

	for _, candidate := range parseCandidates(text) {
		var doc map[string]any
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			continue
		}
		if res, ok := proposalFromDoc(doc, knownTool); ok {
			return res
		}
	}

	return Resolution{Kind: KindNoTool, Reply: strings.TrimSpace(text)}
}

// parseCandidates returns the decode attempts for text, most literal first.
func parseCandidates(text string) []string {
	candidates := []string{text}
	if span := braceSpan(text); span != "" && span != text {
		candidates = append(candidates, span)
	}
	// Single-quoted pseudo-JSON shows up with some local models. Only worth
	// trying when the text contains no double quotes at all, otherwise the
	// rewrite would corrupt valid strings.
	for _, c := range candidates {
		if !strings.Contains(c, `"`) && strings.Contains(c, "'") {
			candidates = append(candidates, strings.ReplaceAll(c, "'", `"`))
		}
	}
	return candidates
}

// proposalFromDoc extracts a tool call from a decoded JSON object.
func proposalFromDoc(doc map[string]any, knownTool func(string) bool) (Resolution, bool) {
	var raw rawProposal
	if data, err := json.Marshal(doc); err == nil {
		// Re-decoding through the struct tolerates extra keys and picks up
		// the alternate field names.
		_ = json.Unmarshal(data, &raw)
	}

	tool := firstNonEmpty(raw.Tool, raw.ToolName, raw.Name)
	params := raw.Params
	if params == nil {
		params = raw.Args
	}
	reply := firstNonEmpty(raw.Reply, raw.Response)

	if tool != "" {
		if params == nil {
			params = map[string]any{}
		}
		return Resolution{Kind: KindToolCall, Tool: tool, Params: params, Reply: reply}, true
	}

	// Flat shape: {"search_rows": {"limit": 3}}.
	if len(doc) == 1 {
		for key, value := range doc {
			obj, isObj := value.(map[string]any)
			if isObj && knownTool(key) {
				return Resolution{Kind: KindToolCall, Tool: key, Params: obj}, true
			}
		}
	}

	if reply != "" {
		return Resolution{Kind: KindNoTool, Reply: reply}, true
	}
	return Resolution{}, false
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, and trims whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		// A short first line is a language tag ("json", "sql"), not content.
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// braceSpan returns the first balanced {...} span in s, respecting string
// literals, or "" when none exists.
func braceSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
