package domain

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vector is a text embedding.
type Vector []float32

// Dim returns the dimensionality of the vector.
func (v Vector) Dim() int {
	return len(v)
}

// EncodeVector serializes v as little-endian 32-bit floats.
func EncodeVector(v Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector parses a little-endian float32 blob holding exactly dim
// values.
func DecodeVector(blob []byte, dim int) (Vector, error) {
	if dim < 0 || len(blob) != 4*dim {
		return nil, fmt.Errorf("%w: blob of %d bytes does not hold exactly %d floats", ErrDimensionMismatch, len(blob), dim)
	}
	v := make(Vector, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}

// CosineSimilarity computes the cosine similarity between two vectors of the
// same length. Returns 0 if either vector has zero magnitude.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// MeanVector averages vectors of equal dimension.
func MeanVector(vectors []Vector) (Vector, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors to average", ErrDimensionMismatch)
	}
	dim := vectors[0].Dim()
	sum := make([]float64, dim)
	for _, v := range vectors {
		if v.Dim() != dim {
			return nil, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, v.Dim(), dim)
		}
		for i, f := range v {
			sum[i] += float64(f)
		}
	}
	mean := make(Vector, dim)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vectors)))
	}
	return mean, nil
}
