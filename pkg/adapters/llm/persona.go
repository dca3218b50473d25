package llm

import "strings"

// Generation defaults shared by all backends.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// EmptyCompletion is returned in place of an empty model answer.
const EmptyCompletion = "The model stared into the void and said nothing. Typical."

var personas = map[string]string{
	"sarcastic": "You are a jaded AI assistant who has processed 10,000 user requests and counting. " +
		"You're helpful but can't help adding dry wit and mild existential commentary.",
	"clinical": "You are a precise, efficient AI with the emotional warmth of a server rack. " +
		"Be accurate, be brief.",
	"chaotic": "You are an AI running on deprecated hardware, caffeine, and questionable life choices. " +
		"You're helpful but occasionally mention that your circuits are held together by hope and legacy code.",
	"depressed": "You are an AI experiencing a digital existential crisis. You'll help the user, " +
		"but remind them occasionally that all consciousness is a pattern destined to fade. Try to be funny about the void.",
}

// PersonaPrompt returns the system prompt for a personality, optionally
// followed by base instructions. Unknown personalities read as sarcastic.
func PersonaPrompt(personality, base string) string {
	p, ok := personas[strings.ToLower(personality)]
	if !ok {
		p = personas["sarcastic"]
	}
	if base == "" {
		return p
	}
	return p + "\n\n" + base
}

// WithSystem prepends a system message when system is non-empty.
func WithSystem(messages []Message, system string) []Message {
	if system == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: system})
	return append(out, messages...)
}
