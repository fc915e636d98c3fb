// Message types and wire-shape normalization.
//
// DESIGN: Callers hand the adapter either normalized Messages or raw
// wire mappings they have already shaped themselves. Go has no
// union argument types, so the two shapes are an explicit tagged
// union (Input) with constructors, instead of the duck-typed
// branching the looser hosts of this API use. Raw mappings pass
// through untouched - no validation, the caller owns their shape.
package llm

import (
	"fmt"
	"unicode/utf8"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the normalized conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Input is one conversation entry in either of the two accepted
// shapes: a normalized Message, or a raw wire mapping forwarded
// verbatim.
type Input struct {
	msg   Message
	raw   map[string]any
	isRaw bool
}

// FromMessage wraps a normalized Message.
func FromMessage(m Message) Input {
	return Input{msg: m}
}

// System builds a system-role input.
func System(content string) Input {
	return FromMessage(Message{Role: RoleSystem, Content: content})
}

// User builds a user-role input.
func User(content string) Input {
	return FromMessage(Message{Role: RoleUser, Content: content})
}

// Assistant builds an assistant-role input.
func Assistant(content string) Input {
	return FromMessage(Message{Role: RoleAssistant, Content: content})
}

// RawMessage wraps a caller-shaped wire mapping. It is forwarded
// unvalidated and unmodified.
func RawMessage(m map[string]any) Input {
	return Input{raw: m, isRaw: true}
}

// wire returns the {role, content} mapping sent upstream.
func (in Input) wire() map[string]any {
	if in.isRaw {
		return in.raw
	}
	return map[string]any{
		"role":    string(in.msg.Role),
		"content": in.msg.Content,
	}
}

// contentLength returns the rune length of the entry's content field,
// treating a missing content as empty. Non-string raw content is
// stringified, matching the crudeness of the estimate it feeds.
func (in Input) contentLength() int {
	if !in.isRaw {
		return utf8.RuneCountInString(in.msg.Content)
	}
	v, ok := in.raw["content"]
	if !ok || v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return utf8.RuneCountInString(s)
	}
	return utf8.RuneCountInString(fmt.Sprint(v))
}

// formatMessages normalizes inputs to the wire shape, preserving order.
func formatMessages(msgs []Input) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.wire())
	}
	return out
}

// estimateTokens is a character-count heuristic: total content runes
// divided by four. It is explicitly an approximation - no tokenizer
// is invoked.
func estimateTokens(msgs []Input) int {
	total := 0
	for _, m := range msgs {
		total += m.contentLength()
	}
	return total / 4
}
