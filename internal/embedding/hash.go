package embedding

import (
	"context"
	"fmt"
	"math"
)

// HashEmbedder is a deterministic embedder derived from word hashes. It needs
// no model file, so a vault without an ONNX model still gets working semantic
// search with stable (if crude) similarity; it also backs the tests. The same
// text always yields the same unit vector.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hash embedder of the given dimensions (default 384).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns a normalized vector accumulated from per-word hash signals,
// so texts sharing words land closer than unrelated texts.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	for _, word := range SplitWords(text) {
		h := HashString(word)
		for i := 0; i < e.dimensions; i++ {
			vec[i] += float32(math.Sin(float64(h*(i+1))) * 0.1)
		}
	}
	if len(SplitWords(text)) == 0 {
		h := HashString(text)
		for i := 0; i < e.dimensions; i++ {
			vec[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	NormalizeL2(vec)
	return vec, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName identifies the hash scheme and dimension.
func (e *HashEmbedder) ModelName() string {
	return fmt.Sprintf("wordhash-%d", e.dimensions)
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}
