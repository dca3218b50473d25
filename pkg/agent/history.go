package agent

import "github.com/wilhg/claw/pkg/adapters/llm"

// TokenCounter estimates the tokens of a text.
type TokenCounter func(text string) int

// fitHistory keeps the newest messages whose combined estimate stays within
// budget, preserving order. A non-positive budget keeps everything.
func fitHistory(msgs []llm.Message, budget int, count TokenCounter) ([]llm.Message, int) {
	if budget <= 0 || count == nil {
		return msgs, 0
	}
	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		n := count(msgs[i].Content)
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return msgs[start:], start
}
