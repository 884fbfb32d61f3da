package mining

import (
	"encoding/hex"

	"scavenger/internal/vm"
)

// requiredZeroBits decodes a challenge's hex difficulty string into the
// leading-zero-bit target a candidate hash must meet (§4.2 "Difficulty
// check": zero_bits = leading_zero_bits_of(difficulty_hex_bytes)).
func requiredZeroBits(difficultyHex string) int {
	b, err := hex.DecodeString(difficultyHex)
	if err != nil {
		return 0
	}
	return vm.LeadingZeroBits(b)
}
