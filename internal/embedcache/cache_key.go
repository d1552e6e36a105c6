package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func buildCacheKey(modelName, taskType, text string) (cacheKey string, contentHash string) {
	sum := sha256.Sum256([]byte(text))
	contentHash = hex.EncodeToString(sum[:])
	cacheKey = strings.Join([]string{modelName, taskType, contentHash}, "|")
	return cacheKey, contentHash
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
