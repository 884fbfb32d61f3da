// Package address derives mining addresses under the three key modes
// (§4.4 "Address derivation by mode") and signs the registration/COSE
// messages the coordinator requires. Bech32 encoding, BIP39 mnemonic
// handling, and CIP-8 COSE signing are treated as narrow external-library
// contracts (§1); this package only wires them together.
package address

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

const hrp = "addr"

// KeyPair is a derived signing key and its printable wallet address.
type KeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Address    string
}

// FromSecretKeyHex builds a KeyPair from a configured secret key (persistent
// mode, §4.4).
func FromSecretKeyHex(secretKeyHex string) (KeyPair, error) {
	seed, err := hex.DecodeString(secretKeyHex)
	if err != nil {
		return KeyPair{}, fmt.Errorf("decode secret key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return keyPairFromSeed(seed)
}

// Ephemeral builds a keypair from a caller-supplied random seed; the Manager
// draws a fresh seed per mining cycle (§4.4).
func Ephemeral(randSeed []byte) (KeyPair, error) {
	if len(randSeed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("ephemeral seed must be %d bytes", ed25519.SeedSize)
	}
	return keyPairFromSeed(randSeed)
}

// DeriveMnemonic walks the BIP39 seed deterministically at (account, index)
// using an HMAC-SHA512 key-derivation chain, grounded on the standard BIP32
// hardened-child construction without pulling in a full Cardano CIP-1852
// implementation (no such library appears anywhere in the example pack;
// see DESIGN.md).
func DeriveMnemonic(mnemonic string, account, index uint32) (KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return KeyPair{}, fmt.Errorf("invalid mnemonic phrase")
	}
	seed := bip39.NewSeed(mnemonic, "")

	chain := hmacChain(seed, "scavenger/account", account)
	chain = hmacChain(chain, "scavenger/index", index)

	return keyPairFromSeed(chain[:ed25519.SeedSize])
}

func hmacChain(key []byte, label string, idx uint32) []byte {
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], idx)
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(label))
	mac.Write(idxBuf[:])
	return mac.Sum(nil)
}

func keyPairFromSeed(seed []byte) (KeyPair, error) {
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)

	addr, err := Encode(pub)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PrivateKey: priv, PublicKey: pub, Address: addr}, nil
}

// Encode bech32-encodes a public key into a printable wallet address (§3
// "Address"): a Blake2b-224 payment-credential digest, the same length and
// hash family Cardano addresses use.
func Encode(pub ed25519.PublicKey) (string, error) {
	h, err := blake2b.New(28, nil)
	if err != nil {
		return "", fmt.Errorf("create blake2b-224: %w", err)
	}
	h.Write(pub)
	sum := h.Sum(nil)

	conv, err := bech32.ConvertBits(sum, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return bech32.Encode(hrp, conv)
}

// Decode recovers the raw payment-credential bytes from a bech32 address.
func Decode(address string) (string, []byte, error) {
	gotHRP, data, err := bech32.Decode(address)
	if err != nil {
		return "", nil, fmt.Errorf("decode bech32: %w", err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("convert bits: %w", err)
	}
	return gotHRP, raw, nil
}
