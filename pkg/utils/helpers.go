package utils

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSemaphoreLimit     = 20
	DefaultBatchQueryInterval = 60 * time.Second
)

// GetSemaphoreLimit returns the semaphore limit from environment variable or default
func GetSemaphoreLimit() int {
	val := os.Getenv("SEMAPHORE_LIMIT")
	if val == "" {
		return DefaultSemaphoreLimit
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit <= 0 {
		return DefaultSemaphoreLimit
	}
	return limit
}

// GetBatchQueryInterval returns the batch poll interval. BATCH_QUERY_INTERVAL is in seconds.
func GetBatchQueryInterval() time.Duration {
	val := os.Getenv("BATCH_QUERY_INTERVAL")
	if val == "" {
		return DefaultBatchQueryInterval
	}
	secs, err := strconv.Atoi(val)
	if err != nil || secs <= 0 {
		return DefaultBatchQueryInterval
	}
	return time.Duration(secs) * time.Second
}

// GetBatchMode reports whether BATCH_MODE asks for provider batch calls.
func GetBatchMode() bool {
	val := strings.TrimSpace(os.Getenv("BATCH_MODE"))
	if val == "" {
		return false
	}
	on, _ := strconv.ParseBool(val)
	return on
}

// NormalizeL2Float32 normalizes a float32 vector using L2 normalization
func NormalizeL2Float32(embedding []float32) []float32 {
	if len(embedding) == 0 {
		return embedding
	}

	var norm float64
	for _, val := range embedding {
		norm += float64(val) * float64(val)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return embedding
	}

	normalized := make([]float32, len(embedding))
	for i, val := range embedding {
		normalized[i] = float32(float64(val) / norm)
	}
	return normalized
}

// ChunkSlice splits s into consecutive pieces of at most size elements.
func ChunkSlice[T any](s []T, size int) [][]T {
	if size <= 0 || len(s) == 0 {
		if len(s) == 0 {
			return nil
		}
		return [][]T{s}
	}
	out := make([][]T, 0, (len(s)+size-1)/size)
	for i := 0; i < len(s); i += size {
		end := min(i+size, len(s))
		out = append(out, s[i:end])
	}
	return out
}
