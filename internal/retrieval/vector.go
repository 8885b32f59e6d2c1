package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	blobHeaderSize = 4
	valueByteSize  = 4
)

// EncodeVector encodes a float32 vector as a binary blob:
// [4-byte little-endian dimension][N x 4-byte little-endian float32].
func EncodeVector(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("retrieval: encode empty vector")
	}

	blob := make([]byte, blobHeaderSize+len(vec)*valueByteSize)
	binary.LittleEndian.PutUint32(blob[:blobHeaderSize], uint32(len(vec)))

	offset := blobHeaderSize
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("retrieval: encode vector: invalid value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[offset:offset+valueByteSize], math.Float32bits(v))
		offset += valueByteSize
	}
	return blob, nil
}

// DecodeVector decodes a blob written by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) < blobHeaderSize {
		return nil, fmt.Errorf("retrieval: decode vector: blob too short (%d bytes)", len(blob))
	}

	dim := int(binary.LittleEndian.Uint32(blob[:blobHeaderSize]))
	if dim <= 0 {
		return nil, fmt.Errorf("retrieval: decode vector: invalid dimension %d", dim)
	}
	if want := blobHeaderSize + dim*valueByteSize; len(blob) != want {
		return nil, fmt.Errorf("retrieval: decode vector: dimension %d does not match payload %d", dim, len(blob)-blobHeaderSize)
	}

	vec := make([]float32, dim)
	offset := blobHeaderSize
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[offset : offset+valueByteSize]))
		offset += valueByteSize
	}
	return vec, nil
}

// Cosine computes the cosine similarity of two vectors, clamped to [-1,1].
// Mismatched dimensions or zero norms yield an error.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("retrieval: cosine: empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("retrieval: cosine: dimension mismatch %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("retrieval: cosine: zero vector norm")
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score, nil
}
