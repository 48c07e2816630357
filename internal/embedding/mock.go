package embedding

import (
	"context"
	"crypto/sha256"
	"strings"
)

const mockDimensions = 64

// MockProvider is a deterministic in-process provider for tests and offline
// runs. Token-overlapping texts produce similar vectors, so cosine similarity
// behaves directionally like a real model.
type MockProvider struct{}

// NewMockProvider creates a mock embedding provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Embed hashes each token into a fixed-dimension bag-of-words vector.
func (m *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, mockDimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		idx := int(sum[0]) % mockDimensions
		vec[idx]++
	}
	return vec, nil
}
