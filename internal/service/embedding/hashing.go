package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// HashingProvider is a dependency-free embedding fallback: it hashes
// unigrams, bigrams, and character trigrams of the input text into a
// fixed-width feature vector. It never calls out to a network and never
// errors, so it is always available as a last resort when no API key is
// configured, where Noop would leave every text unembedded (ErrNoProvider).
type HashingProvider struct {
	dims int
}

// NewHashingProvider creates a deterministic feature-hashing provider
// producing vectors of the given dimensionality.
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = 256
	}
	return &HashingProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashingProvider) Dimensions() int { return p.dims }

// Embed hashes text into a single vector. Never returns an error.
func (p *HashingProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	return pgvector.NewVector(p.vectorize(text)), nil
}

// EmbedBatch hashes each text independently.
func (p *HashingProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		vecs[i] = pgvector.NewVector(p.vectorize(t))
	}
	return vecs, nil
}

// vectorize implements the hashing scheme: each feature (unigram, bigram,
// or character trigram) is hashed with FNV-1a into a bucket in [0, dims),
// weighted by log1p(term frequency) with sign from a second hash bit (the
// classic hashing-trick sign trick to reduce collision bias), plus one
// length-bucket feature capturing overall document size. The result is
// L2-normalized so cosine similarity behaves the same as with a real
// embedding model.
func (p *HashingProvider) vectorize(text string) []float32 {
	vec := make([]float64, p.dims)
	tokens := tokenize(text)

	termFreq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		termFreq[t]++
	}
	for _, bg := range bigrams(tokens) {
		termFreq["bg:"+bg]++
	}
	for _, tg := range charTrigrams(text) {
		termFreq["tg:"+tg]++
	}

	for term, freq := range termFreq {
		bucket, sign := hashFeature(term, p.dims)
		weight := math.Log1p(float64(freq))
		vec[bucket] += sign * weight
	}

	// Length-bucket feature: land in a deterministic bucket derived from
	// the token count so documents of similar length cluster slightly,
	// independent of their specific vocabulary.
	lenBucket, lenSign := hashFeature("len", p.dims)
	vec[lenBucket] += lenSign * math.Log1p(float64(len(tokens)))

	return l2Normalize(vec)
}

func tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	return fields
}

func bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i < len(tokens)-1; i++ {
		out = append(out, tokens[i]+"_"+tokens[i+1])
	}
	return out
}

func charTrigrams(text string) []string {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if len(lower) < 3 {
		return nil
	}
	out := make([]string, 0, len(lower)-2)
	for i := 0; i+3 <= len(lower); i++ {
		out = append(out, lower[i:i+3])
	}
	return out
}

// hashFeature hashes term into a bucket index and a +1/-1 sign, using two
// independent FNV-1a passes (the term, and the term with a salt byte).
func hashFeature(term string, dims int) (int, float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	bucket := int(h.Sum32() % uint32(dims))

	h2 := fnv.New32a()
	_, _ = h2.Write([]byte(term))
	_, _ = h2.Write([]byte{0xA5})
	sign := 1.0
	if h2.Sum32()%2 == 0 {
		sign = -1.0
	}
	return bucket, sign
}

func l2Normalize(vec []float64) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	out := make([]float32, len(vec))
	if sumSq == 0 {
		return out
	}
	norm := math.Sqrt(sumSq)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
