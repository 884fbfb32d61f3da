package model

import (
	"encoding/hex"
	"fmt"
)

// PendingSolution is a candidate submission awaiting coordinator acceptance
// (§3). It is durably stored before any network attempt is made.
type PendingSolution struct {
	Address         string `json:"address"`
	ChallengeID     string `json:"challenge_id"`
	Nonce           uint64 `json:"nonce"`
	Preimage        string `json:"preimage"`
	HashOutput      string `json:"hash_output"`
	DonationAddress string `json:"donation_address,omitempty"`
}

// FailedSolution is a permanently-failed record kept for inspection
// (`failed:<address>:<id>:<nonce>`, §6).
type FailedSolution struct {
	PendingSolution
	Reason string `json:"reason"`
}

// Receipt is the opaque JSON object returned by the coordinator on
// acceptance; stored verbatim and treated as authoritative (§3, §9 "Opaque
// JSON receipts"). The bytes are round-tripped, never parsed and
// re-serialised, so that any server-side signature embedded in the payload
// survives intact.
type Receipt []byte

// NonceHex formats a nonce as the 16 lowercase hex digits the preimage
// requires (§3, §6: `format!("{:016x}", nonce)`).
func NonceHex(nonce uint64) string {
	return fmt.Sprintf("%016x", nonce)
}

// ParseNonceHex parses the leading 16 hex characters of a preimage back
// into the nonce that produced it (§8 "Preimage round-trip").
func ParseNonceHex(preimage string) (uint64, error) {
	if len(preimage) < 16 {
		return 0, fmt.Errorf("preimage too short to contain a nonce")
	}
	b, err := hex.DecodeString(preimage[:16])
	if err != nil {
		return 0, fmt.Errorf("decode nonce hex: %w", err)
	}
	var nonce uint64
	for _, v := range b {
		nonce = nonce<<8 | uint64(v)
	}
	return nonce, nil
}

// BuildPreimage concatenates the preimage fields in the fixed order §3
// requires: nonce_hex(16) || address || challenge_id || difficulty ||
// rom_key || latest_submission || hour_tag.
func BuildPreimage(nonce uint64, address string, c Challenge) string {
	return NonceHex(nonce) + address + c.ChallengeID + c.Difficulty + c.RomKey +
		c.LatestSubmission + c.HourTag
}
