package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding packs a vector into a fixed-width binary blob: IEEE-754
// little-endian float32 values, four bytes each. This is the on-disk
// embedding format for every backend.
func EncodeEmbedding(vector []float64) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(float32(v)))
	}
	return blob
}

// DecodeEmbedding unpacks a binary blob produced by EncodeEmbedding.
func DecodeEmbedding(blob []byte) ([]float64, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("store: embedding blob length %d is not a multiple of 4", len(blob))
	}

	vector := make([]float64, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = float64(math.Float32frombits(bits))
	}
	return vector, nil
}
