// Package rom builds the memory-hard, read-only table that backs the hash
// VM (internal/vm). See build_rom in the component design: a deterministic
// seed expansion followed by indexed XOR-mixing into a streaming digest.
package rom

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// hPrime is the Argon2 variable-length output primitive: arbitrary-length
// output from a seed, built from chained Blake2b-512 emissions. For
// outLen <= 64 it degenerates to a single variable-output Blake2b call;
// above that it chains 32-byte halves of successive Blake2b-512 digests.
func hPrime(seed []byte, outLen int) []byte {
	if outLen <= 64 {
		h, err := blake2b.New(outLen, nil)
		if err != nil {
			panic(err)
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(outLen))
		h.Write(lenBuf[:])
		h.Write(seed)
		return h.Sum(nil)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(outLen))
	first := make([]byte, 0, len(lenBuf)+len(seed))
	first = append(first, lenBuf[:]...)
	first = append(first, seed...)

	out := make([]byte, 0, outLen+64)
	v := blake2b.Sum512(first)
	out = append(out, v[:32]...)

	for len(out)+32 < outLen {
		v = blake2b.Sum512(v[:])
		out = append(out, v[:32]...)
	}

	v = blake2b.Sum512(v[:])
	out = append(out, v[:outLen-len(out)]...)
	return out
}
