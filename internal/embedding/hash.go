package embedding

import (
	"context"
	"encoding/binary"
	"math"
	"strings"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/zeebo/blake3"
)

// DefaultHashDimensions is the vector size of a HashEncoder built with a
// non-positive dimension.
const DefaultHashDimensions = 384

// HashEncoder embeds text by signed feature hashing of its tokens. It needs
// no model, so texts sharing words land near each other and nothing more.
type HashEncoder struct {
	dim int
}

// NewHashEncoder creates a HashEncoder producing dim-sized vectors.
func NewHashEncoder(dim int) *HashEncoder {
	if dim <= 0 {
		dim = DefaultHashDimensions
	}
	return &HashEncoder{dim: dim}
}

// Encode returns the unit-length hashed bag of words of text.
func (e *HashEncoder) Encode(_ context.Context, text string) (domain.Vector, error) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil, errEmptyText
	}

	sums := make([]float64, e.dim)
	for _, tok := range tokens {
		h := blake3.Sum256([]byte(tok))
		idx := binary.LittleEndian.Uint64(h[:8]) % uint64(e.dim)
		if h[8]&1 == 0 {
			sums[idx]++
		} else {
			sums[idx]--
		}
	}

	var norm float64
	for _, s := range sums {
		norm += s * s
	}
	norm = math.Sqrt(norm)

	v := make(domain.Vector, e.dim)
	if norm == 0 {
		return v, nil
	}
	for i, s := range sums {
		v[i] = float32(s / norm)
	}
	return v, nil
}
