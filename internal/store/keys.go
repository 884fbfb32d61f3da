package store

import "fmt"

// Key schema (§6 "Persistent state"): a single flat keyspace with
// `:`-delimited fields.
const (
	prefixChallenge     = "challenge:"
	keyLastChallengeID  = "last_challenge_id"
	keyLastActiveMode   = "last_active_key_mode"
	prefixReceipt       = "receipt:"
	prefixPending       = "pending:"
	prefixFailed        = "failed:"
	prefixMnemonicIndex = "mnemonic_index:"
)

func ChallengeKey(id string) string {
	return prefixChallenge + id
}

func ReceiptKey(address, challengeID string) string {
	return fmt.Sprintf("%s%s:%s", prefixReceipt, address, challengeID)
}

func PendingKey(address, challengeID string, nonce uint64) string {
	return fmt.Sprintf("%s%s:%s:%016x", prefixPending, address, challengeID, nonce)
}

func FailedKey(address, challengeID string, nonce uint64) string {
	return fmt.Sprintf("%s%s:%s:%016x", prefixFailed, address, challengeID, nonce)
}

// MnemonicCursorKey is the per-challenge resume cursor in mnemonic mode.
func MnemonicCursorKey(challengeID string) string {
	return fmt.Sprintf("%s%s", prefixMnemonicIndex, challengeID)
}

// MnemonicWalletKey is the wallet-inspection mapping recorded alongside the
// cursor (§4.4 "Address derivation by mode").
func MnemonicWalletKey(mnemonicHash string, account, index uint32) string {
	return fmt.Sprintf("%s%s:%d:%d", prefixMnemonicIndex, mnemonicHash, account, index)
}

const LastChallengeIDKey = keyLastChallengeID
const LastActiveModeKey = keyLastActiveMode

const (
	PendingPrefix  = prefixPending
	FailedPrefix   = prefixFailed
	ReceiptPrefix  = prefixReceipt
	ChallengePrefix = prefixChallenge
)
