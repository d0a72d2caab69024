package orchestrator

import (
	"math"

	"omnimem/internal/retrieval"
)

// TermFrequency tokenizes text with the same tokenizer the retrieval engine
// uses and returns a raw term-frequency vector (counts, not normalized).
func TermFrequency(text string) map[string]float64 {
	toks := retrieval.Tokenize(text)
	out := make(map[string]float64, len(toks))
	for _, t := range toks {
		out[t]++
	}
	return out
}

// CosineSimilarity computes the cosine similarity between two sparse
// term-frequency vectors, treating either empty vector as orthogonal (0).
func CosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for k, v := range a {
		na += v * v
		if bv, ok := b[k]; ok {
			dot += v * bv
		}
	}
	for _, v := range b {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MergeTopic folds freshVec into old by exponential moving average with
// factor alpha, dropping any entry whose weight decays below prune.
func MergeTopic(old map[string]float64, freshVec map[string]float64, alpha, prune float64) map[string]float64 {
	out := make(map[string]float64, len(old)+len(freshVec))
	for k, v := range old {
		out[k] = v
	}
	for k := range out {
		out[k] *= 1 - alpha
		if out[k] < prune {
			delete(out, k)
		}
	}
	for k, v := range freshVec {
		out[k] += alpha * v
	}
	return out
}
