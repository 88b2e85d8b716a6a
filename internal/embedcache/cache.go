// Package embedcache caches embedding vectors keyed by text and model.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Store is a read-through cache for embedding vectors. Implementations
// must be safe for concurrent use; on a concurrent miss for the same
// key the last writer wins, which is acceptable because the same input
// always embeds to the same vector.
type Store interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vec []float32) error
}

// Key derives the cache key for a text and embedding model pair.
// Changing the model invalidates previously cached vectors.
func Key(text, modelID string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(modelID))
	return hex.EncodeToString(h.Sum(nil))
}
