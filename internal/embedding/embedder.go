// Package embedding produces fixed-dimension, L2-normalized text embeddings.
package embedding

import "context"

// Embedder produces vector embeddings for text. Vectors from different
// ModelName values are not comparable; callers must partition by model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}
