package llm

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates token usage of text content.
type TokenEstimator func(text string) int

// NewTikTokenEstimator returns a TokenEstimator backed by tiktoken-go for the given model.
// If the model is unknown to tiktoken, EncodingForModel returns an error.
func NewTikTokenEstimator(model string) (TokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, err
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// ApproxTokens is the chars/4 heuristic used when no tokenizer is available.
func ApproxTokens(text string) int {
	return (len(text) + 3) / 4
}

// LazyEstimator resolves a tiktoken encoding on first use and falls back to
// ApproxTokens when the model is unknown or the encoding cannot be loaded.
type LazyEstimator struct {
	model string
	once  sync.Once
	est   TokenEstimator
}

// NewLazyEstimator returns an estimator for model.
func NewLazyEstimator(model string) *LazyEstimator {
	return &LazyEstimator{model: model}
}

// Count estimates tokens for text.
func (l *LazyEstimator) Count(text string) int {
	l.once.Do(func() {
		est, err := NewTikTokenEstimator(l.model)
		if err != nil {
			est = ApproxTokens
		}
		l.est = est
	})
	return l.est(text)
}
