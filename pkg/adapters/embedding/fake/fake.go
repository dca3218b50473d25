// Package fake provides a deterministic offline embedder.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/wilhg/claw/pkg/adapters/embedding"
)

// Embedder hashes each lowercase word into one of dim buckets and returns the
// unit-normalised bucket counts. Texts sharing words therefore land close to
// each other under cosine distance, which is enough for search tests and for
// running without an embedding API.
type Embedder struct {
	dim int
}

// New returns a fake embedder with the given dimension (>= 4).
func New(dim int) *Embedder {
	if dim < 4 {
		dim = 4
	}
	return &Embedder{dim: dim}
}

func (e *Embedder) Name() string { return "fake" }

func (e *Embedder) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	out := make([]embedding.Vector, len(inputs))
	for i, s := range inputs {
		out[i] = e.vector(s)
	}
	return out, nil
}

func (e *Embedder) vector(s string) embedding.Vector {
	vec := make(embedding.Vector, e.dim)
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := sha256.Sum256([]byte(w))
		bucket := binary.LittleEndian.Uint64(h[:8]) % uint64(e.dim)
		vec[bucket]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for j := range vec {
		vec[j] /= n
	}
	return vec
}

func init() {
	_ = embedding.Register("fake", func(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) {
		return New(embedding.Dimensions(cfg)), nil
	})
}
