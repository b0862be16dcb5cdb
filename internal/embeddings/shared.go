package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"
)

// TextHash returns a stable hex digest of text, used as a cache and storage key.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmbedding normalizes a vector to unit length
func NormalizeEmbedding(embedding []float32) []float32 {
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

// ComputeCosineSimilarity calculates cosine similarity between two vectors
func ComputeCosineSimilarity(vec1, vec2 []float32) float32 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0.0
	}

	var dotProduct, norm1, norm2 float64
	for i := range vec1 {
		dotProduct += float64(vec1[i]) * float64(vec2[i])
		norm1 += float64(vec1[i]) * float64(vec1[i])
		norm2 += float64(vec2[i]) * float64(vec2[i])
	}

	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}

	return float32(dotProduct / (math.Sqrt(norm1) * math.Sqrt(norm2)))
}

// updateStats folds one encode call into stats. Callers hold the stats lock.
func updateStats(stats *ModelStats, plan *BatchPlan, sentences int, duration time.Duration) {
	stats.TotalEncodes++
	stats.SuccessfulRuns++
	stats.TotalSentences += int64(sentences)
	stats.TotalBatches += int64(len(plan.Batches))
	stats.TotalTokens += int64(plan.TotalTokens)
	stats.TruncatedInputs += int64(plan.Truncated)
	for _, b := range plan.Batches {
		stats.PaddingTokens += int64(b.PaddingTokens())
	}
	stats.LastInferenceTime = time.Now()

	totalDuration := time.Duration(stats.SuccessfulRuns-1) * stats.AvgEncodeTime
	stats.AvgEncodeTime = (totalDuration + duration) / time.Duration(stats.SuccessfulRuns)

	if stats.TotalSentences > 0 {
		stats.AvgTokensPerText = float64(stats.TotalTokens) / float64(stats.TotalSentences)
	}
	stats.ErrorRate = float64(stats.FailedRuns) / float64(stats.SuccessfulRuns+stats.FailedRuns)
}
