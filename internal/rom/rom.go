package rom

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const chunkSize = 64

// Rom is the deterministically generated, read-only byte table used as the
// memory-hard substrate of the hash VM (§4.1, §4.2 "Memory access").
type Rom struct {
	Data   []byte
	Digest [64]byte
}

// Chunks reports the number of 64-byte blocks backing the table; used by
// the VM's memory operand to compute `addr mod chunks`.
func (r *Rom) Chunks() int {
	return len(r.Data) / chunkSize
}

// state holds the intermediate values of ROM construction: the H'
// pre-expansion buffer and the running offsets stream that selects which
// pre-expansion blocks each output chunk mixes. Exposed to tests so the
// §4.2/§8 reference vector can be checked stage by stage, not just against
// the final digest.
type state struct {
	preBuf    []byte
	numBlocks int
	offsetsBS [64]byte
}

// newState runs the seed expansion: a V0 seed, an Argon2 H' pre-expansion
// buffer, and the offsets stream seed derived straight from V0.
func newState(seed []byte, size, preSize int) state {
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(size))
	v0 := blake2b.Sum256(append(append([]byte{}, sizeBuf[:]...), seed...))

	preBuf := hPrime(v0[:], preSize)
	return state{
		preBuf:    preBuf,
		numBlocks: preSize / chunkSize,
		offsetsBS: blake2b.Sum512(v0[:]),
	}
}

// nextIndices advances the offsets stream by mixingRounds Blake2b-512
// steps, returning mixingRounds*32 little-endian uint16 block indices.
func (s *state) nextIndices(mixingRounds uint32) []uint16 {
	indices := make([]uint16, 0, int(mixingRounds)*32)
	for r := uint32(0); r < mixingRounds; r++ {
		s.offsetsBS = blake2b.Sum512(s.offsetsBS[:])
		for i := 0; i < 32; i++ {
			indices = append(indices, binary.LittleEndian.Uint16(s.offsetsBS[i*2:i*2+2]))
		}
	}
	return indices
}

// mixChunk XORs the 32 pre-expansion blocks the given indices select into
// a single 64-byte output chunk.
func (s *state) mixChunk(indices []uint16) [chunkSize]byte {
	var chunk [chunkSize]byte
	for _, idx := range indices {
		block := int(idx) % s.numBlocks
		src := s.preBuf[block*chunkSize : block*chunkSize+chunkSize]
		for b := 0; b < chunkSize; b++ {
			chunk[b] ^= src[b]
		}
	}
	return chunk
}

// Build runs the ROM construction algorithm (§4.1): a V0 seed, an Argon2
// H' pre-expansion buffer, and mixing_rounds-batched indexed XOR-mixing
// streamed into both the output table and its Blake2b-512 digest.
func Build(seed []byte, size, preSize int, mixingRounds uint32) (*Rom, error) {
	if size <= 0 || size%chunkSize != 0 {
		return nil, fmt.Errorf("rom: size must be a positive multiple of %d", chunkSize)
	}
	if preSize <= 0 || preSize%chunkSize != 0 {
		return nil, fmt.Errorf("rom: pre_size must be a positive multiple of %d", chunkSize)
	}
	if mixingRounds == 0 {
		return nil, fmt.Errorf("rom: mixing_rounds must be at least 1")
	}

	st := newState(seed, size, preSize)

	digest, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}

	data := make([]byte, size)
	totalChunks := size / chunkSize

	produced := 0
	for produced < totalChunks {
		indices := st.nextIndices(mixingRounds)
		for r := uint32(0); r < mixingRounds && produced < totalChunks; r++ {
			chunk := st.mixChunk(indices[r*32 : r*32+32])
			copy(data[produced*chunkSize:produced*chunkSize+chunkSize], chunk[:])
			digest.Write(chunk[:])
			produced++
		}
	}

	r := &Rom{Data: data}
	copy(r.Digest[:], digest.Sum(nil))
	return r, nil
}
