// Package embed turns item text into vectors for similarity clustering.
// Cosine similarity over the produced vectors is the comparison primitive;
// the embedding strategy behind it is swappable.
package embed

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Embedder produces fixed-dimension vectors for a batch of texts.
type Embedder interface {
	Embed(texts []string) [][]float64
	Dim() int
}

const defaultDim = 512

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// HashingEmbedder is a sparse bag-of-words embedder using feature hashing
// into a fixed number of buckets. It is deterministic and stable across
// invocations, which keeps centroids from earlier clustering passes
// comparable with newly embedded items.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates a hashing embedder with the default dimension.
func NewHashingEmbedder() *HashingEmbedder {
	return &HashingEmbedder{dim: defaultDim}
}

// NewHashingEmbedderWithDim creates a hashing embedder with a custom
// dimension. Dimensions below 16 are clamped to 16.
func NewHashingEmbedderWithDim(dim int) *HashingEmbedder {
	if dim < 16 {
		dim = 16
	}
	return &HashingEmbedder{dim: dim}
}

// Dim returns the embedding dimensionality.
func (e *HashingEmbedder) Dim() int { return e.dim }

// Embed converts each text into an L2-normalized token-count vector.
// Empty texts yield zero vectors.
func (e *HashingEmbedder) Embed(texts []string) [][]float64 {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, e.dim)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[int(h.Sum32())%e.dim]++
		}
		vectors[i] = Normalize(vec)
	}
	return vectors
}

// TFIDFVectorizer is a sparse TF-IDF embedder fit per invocation. Its
// dimension is the vocabulary of the fitted corpus, so vectors are only
// comparable within a single FitTransform call. The batch clustering mode
// uses it; the incremental mode needs a stable embedder instead.
type TFIDFVectorizer struct {
	vocab map[string]int
	idf   []float64
}

// NewTFIDFVectorizer creates an unfitted vectorizer.
func NewTFIDFVectorizer() *TFIDFVectorizer {
	return &TFIDFVectorizer{}
}

// Dim returns the fitted vocabulary size, 0 before fitting.
func (v *TFIDFVectorizer) Dim() int { return len(v.vocab) }

// FitTransform fits the vocabulary and document frequencies on the given
// corpus and returns the TF-IDF vectors for it.
func (v *TFIDFVectorizer) FitTransform(texts []string) [][]float64 {
	v.vocab = make(map[string]int)
	docFreq := make(map[string]int)

	tokenized := make([][]string, len(texts))
	for i, text := range texts {
		tokens := tokenize(text)
		tokenized[i] = tokens
		seen := make(map[string]bool)
		for _, tok := range tokens {
			if _, ok := v.vocab[tok]; !ok {
				v.vocab[tok] = len(v.vocab)
			}
			if !seen[tok] {
				seen[tok] = true
				docFreq[tok]++
			}
		}
	}

	v.idf = make([]float64, len(v.vocab))
	n := float64(len(texts))
	for tok, idx := range v.vocab {
		v.idf[idx] = math.Log((1+n)/(1+float64(docFreq[tok]))) + 1
	}

	vectors := make([][]float64, len(texts))
	for i, tokens := range tokenized {
		vec := make([]float64, len(v.vocab))
		for _, tok := range tokens {
			idx := v.vocab[tok]
			vec[idx] += v.idf[idx]
		}
		vectors[i] = Normalize(vec)
	}
	return vectors
}

// Embed transforms texts using the already-fitted vocabulary. Unknown
// tokens are ignored. Calling Embed before FitTransform yields zero-length
// vectors.
func (v *TFIDFVectorizer) Embed(texts []string) [][]float64 {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, len(v.vocab))
		for _, tok := range tokenize(text) {
			if idx, ok := v.vocab[tok]; ok {
				vec[idx] += v.idf[idx]
			}
		}
		vectors[i] = Normalize(vec)
	}
	return vectors
}

// Cosine computes the cosine similarity between two vectors, returning 0
// for mismatched lengths or zero vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales a vector to unit length. Zero vectors are returned
// unchanged.
func Normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// ItemText builds the text used for embedding an item: the title is
// double-weighted, the summary included once, and content truncated.
func ItemText(title, summary, content string) string {
	const maxContent = 500
	if len(content) > maxContent {
		content = content[:maxContent]
	}
	parts := []string{title, title, summary, content}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}
