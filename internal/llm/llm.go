// Package llm holds what the language-model adapters share.
package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the model answers without any content.
var ErrEmptyResponse = errors.New("empty model response")

// CheckEmbeddings verifies that a provider returned one non-empty vector per
// input and that all vectors share a dimension.
func CheckEmbeddings(want int, vectors [][]float32) error {
	if len(vectors) != want {
		return fmt.Errorf("expected %d embeddings, got %d", want, len(vectors))
	}
	if want == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("embedding 0: %w", ErrEmptyResponse)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
