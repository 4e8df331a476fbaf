package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DeterministicEmbedder derives vectors from a SHA-256 digest of the text.
//
// The digest seeds a counter-mode expansion into uniform values in [-1, 1),
// which are then scaled to unit length. Identical text always yields an
// identical vector, across processes and platforms.
type DeterministicEmbedder struct {
	dimension int
}

// NewDeterministicEmbedder creates a deterministic embedder. Non-positive
// dimensions use DeterministicDimension.
func NewDeterministicEmbedder(dimension int) *DeterministicEmbedder {
	if dimension <= 0 {
		dimension = DeterministicDimension
	}
	return &DeterministicEmbedder{dimension: dimension}
}

// EmbedDocuments implements Embedder. It never fails.
func (d *DeterministicEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = HashVector(text, d.dimension)
	}
	return out, nil
}

// EmbedQuery implements Embedder. It never fails.
func (d *DeterministicEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return HashVector(text, d.dimension), nil
}

// Dimension implements Embedder.
func (d *DeterministicEmbedder) Dimension() int { return d.dimension }

// Mode implements Backend.
func (d *DeterministicEmbedder) Mode() Mode { return ModeDeterministic }

// Close implements Backend.
func (d *DeterministicEmbedder) Close() error { return nil }

// HashVector returns the unit-length deterministic vector for text.
func HashVector(text string, dimension int) []float32 {
	if dimension <= 0 {
		return nil
	}
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, dimension)

	var (
		counter [8]byte
		block   [sha256.Size]byte
	)
	const perBlock = sha256.Size / 4
	for i := 0; i < dimension; i += perBlock {
		binary.BigEndian.PutUint64(counter[:], uint64(i/perBlock))
		h := sha256.New()
		h.Write(seed[:])
		h.Write(counter[:])
		h.Sum(block[:0])

		for j := 0; j < perBlock && i+j < dimension; j++ {
			u := binary.BigEndian.Uint32(block[j*4:])
			vec[i+j] = float32(float64(u)/float64(1<<32)*2 - 1)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * scale)
	}
	return vec
}
