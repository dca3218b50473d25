// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/wilhg/claw/pkg/adapters/llm"
)

// ErrScriptExhausted is returned once all scripted replies are consumed and no Repeat reply is set.
var ErrScriptExhausted = errors.New("llmtest: no more scripted replies")

// Reply is one scripted answer.
type Reply struct {
	Text string
	Err  error
}

// Text scripts a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail scripts a failing reply.
func Fail(err error) Reply { return Reply{Err: err} }

// Partial scripts a stream that emits text and then fails with err. Blocking
// calls only see err.
func Partial(text string, err error) Reply { return Reply{Text: text, Err: err} }

// Call records one Complete or StreamComplete invocation.
type Call struct {
	Messages []llm.Message
	System   string
	Stream   bool
}

// Provider pops scripted replies in order and records every call.
type Provider struct {
	name  string
	model string

	mu      sync.Mutex
	replies []Reply
	repeat  *Reply
	calls   []Call
	healthy bool
}

var _ llm.Provider = (*Provider)(nil)

// New returns a healthy scripted provider.
func New(name, model string, replies ...Reply) *Provider {
	return &Provider{name: name, model: model, replies: replies, healthy: true}
}

// Push appends replies to the script.
func (p *Provider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// Repeat sets the reply returned once the script is exhausted.
func (p *Provider) Repeat(r Reply) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = &r
	return p
}

// SetHealthy sets the CheckHealth result.
func (p *Provider) SetHealthy(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = ok
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Factory returns an llm.Factory that always hands back p.
func (p *Provider) Factory() llm.Factory {
	return func(context.Context, map[string]any) (llm.Provider, error) { return p, nil }
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) next(c Call) Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.Messages = append([]llm.Message(nil), c.Messages...)
	p.calls = append(p.calls, c)
	if len(p.replies) == 0 {
		if p.repeat != nil {
			return *p.repeat
		}
		return Reply{Err: ErrScriptExhausted}
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r
}

func (p *Provider) Complete(ctx context.Context, messages []llm.Message, system string) (string, error) {
	r := p.next(Call{Messages: messages, System: system})
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// StreamComplete emits the scripted text word by word, keeping separators, so
// the concatenated chunks equal the text. A scripted error is returned after
// the text is emitted.
func (p *Provider) StreamComplete(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc, system string) error {
	r := p.next(Call{Messages: messages, System: system, Stream: true})
	for _, chunk := range strings.SplitAfter(r.Text, " ") {
		if chunk != "" {
			onChunk(chunk)
		}
	}
	return r.Err
}

func (p *Provider) CheckHealth(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

func (p *Provider) EstimateTokenCount(text string) int { return llm.ApproxTokens(text) }
