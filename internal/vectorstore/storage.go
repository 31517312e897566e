// Package vectorstore holds what the persisted store adapters share: dump
// validation and the binary vector encoding.
package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"primate-rag/internal/domain"
)

// Corrupt returns an error matching domain.ErrCorruptStore.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrCorruptStore, fmt.Sprintf(format, args...))
}

// Validate checks that a loaded dump is internally consistent: every record
// carries a vector of the dump's model and dimension, and chunk ids and
// ordinals are unique.
func Validate(d domain.Dump) error {
	if len(d.Records) == 0 {
		return nil
	}
	if d.Model == "" || d.Dimension <= 0 {
		return Corrupt("%d records without model or dimension", len(d.Records))
	}
	seen := make(map[string]struct{}, len(d.Records))
	for i, r := range d.Records {
		if r.Chunk.ChunkID == "" {
			return Corrupt("record %d has no chunk id", i)
		}
		if _, dup := seen[r.Chunk.ChunkID]; dup {
			return Corrupt("duplicate chunk id %q", r.Chunk.ChunkID)
		}
		seen[r.Chunk.ChunkID] = struct{}{}
		if r.Vector.Model != d.Model {
			return Corrupt("chunk %q has model %q, store has %q", r.Chunk.ChunkID, r.Vector.Model, d.Model)
		}
		if len(r.Vector.Values) != d.Dimension {
			return Corrupt("chunk %q has %d dimensions, store has %d", r.Chunk.ChunkID, len(r.Vector.Values), d.Dimension)
		}
	}
	return nil
}

// CheckCounts reports corruption when the number of stored vectors differs
// from the number of stored chunks.
func CheckCounts(chunks, vectors int) error {
	if chunks != vectors {
		return Corrupt("%d chunks but %d vectors", chunks, vectors)
	}
	return nil
}

// EncodeVector encodes values as little-endian IEEE 754 float64s. The length
// is implied by the byte count.
func EncodeVector(values []float64) []byte {
	b := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

// DecodeVector decodes bytes produced by EncodeVector.
func DecodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, Corrupt("vector blob length %d is not a multiple of 8", len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}
