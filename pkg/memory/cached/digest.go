package cached

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// digestChunk is the number of floats hashed together before the chunk
// digests are folded into the final hash.
const digestChunk = 16

// Digest returns a hex digest of an embedding for use in search cache keys.
//
// Each float is bit-reinterpreted little-endian, every chunk of digestChunk
// floats is hashed with xxhash64, and the chunk digests followed by the
// vector length are hashed again. Chunk order is part of the input, so
// permutations of the vector do not collide, and any single-bit change in any
// component changes the result.
func Digest(v []float32) string {
	var (
		chunk [digestChunk * 4]byte
		word  [8]byte
	)

	outer := xxhash.New()
	for start := 0; start < len(v); start += digestChunk {
		n := 0
		for _, f := range v[start:min(start+digestChunk, len(v))] {
			binary.LittleEndian.PutUint32(chunk[n:], math.Float32bits(f))
			n += 4
		}
		binary.LittleEndian.PutUint64(word[:], xxhash.Sum64(chunk[:n]))
		_, _ = outer.Write(word[:])
	}

	binary.LittleEndian.PutUint64(word[:], uint64(len(v)))
	_, _ = outer.Write(word[:])

	return fmt.Sprintf("%016x", outer.Sum64())
}
