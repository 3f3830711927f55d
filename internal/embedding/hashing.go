package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashingDimension = 256

// HashingProvider is an offline embedder: word tokens and CJK rune bigrams are
// hashed into signed buckets and the result is L2-normalized. Texts that share
// vocabulary land close together, which is enough for local recall without a model.
type HashingProvider struct {
	dimensions int
}

// NewHashingProvider creates a HashingProvider; dim <= 0 selects 256.
func NewHashingProvider(dim int) *HashingProvider {
	if dim <= 0 {
		dim = defaultHashingDimension
	}
	return &HashingProvider{dimensions: dim}
}

// Embed never fails and never blocks.
func (p *HashingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embed(text)
	}
	return out, nil
}

// Dimension returns the fixed bucket count.
func (p *HashingProvider) Dimension() int {
	return p.dimensions
}

func (p *HashingProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimensions)
	features := features(text)
	if len(features) == 0 {
		features = []string{text}
	}
	for _, f := range features {
		h := fnv.New64a()
		h.Write([]byte(f))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimensions))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	return normalize(vec)
}

// features splits text into lowercase word tokens; runs of CJK characters,
// which carry no spaces, additionally contribute overlapping rune bigrams.
func features(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
	})
	var out []string
	for _, f := range fields {
		runes := []rune(f)
		if !isCJK(runes[0]) {
			out = append(out, f)
			continue
		}
		if len(runes) == 1 {
			out = append(out, f)
			continue
		}
		for i := 0; i+1 < len(runes); i++ {
			out = append(out, string(runes[i:i+2]))
		}
	}
	return out
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// normalize converts vec to a unit vector; a zero vector is returned unchanged.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
