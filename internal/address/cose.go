package address

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// coseProtectedHeader mirrors the minimal CIP-8 COSE_Sign1 protected
// header: the signing algorithm and the address the key belongs to.
type coseProtectedHeader struct {
	Alg     int    `cbor:"1,keyasint"`
	Address string `cbor:"address"`
}

const algEdDSA = -8 // COSE algorithm identifier for EdDSA

// SignRegistration builds the CIP-8 COSE_Sign1 signature over a
// registration message (§4.4 "ensure the address is registered... with a
// signed message", §6 `/register/{address}/{signature}/{pubkey}`). Returns
// the hex-encoded signature and public key the coordinator expects in the
// URL path.
func SignRegistration(kp KeyPair, message []byte) (signatureHex, pubKeyHex string, err error) {
	protected, err := cbor.Marshal(coseProtectedHeader{Alg: algEdDSA, Address: kp.Address})
	if err != nil {
		return "", "", fmt.Errorf("marshal protected header: %w", err)
	}

	sigStructure, err := cbor.Marshal([]any{
		"Signature1",
		protected,
		[]byte{}, // external_aad
		message,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal sig_structure: %w", err)
	}

	sig := ed25519.Sign(kp.PrivateKey, sigStructure)
	return hex.EncodeToString(sig), hex.EncodeToString(kp.PublicKey), nil
}

// VerifyRegistration checks a COSE_Sign1 signature built by SignRegistration
// against the given public key, address, and message.
func VerifyRegistration(pub ed25519.PublicKey, address string, message []byte, signatureHex string) (bool, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	protected, err := cbor.Marshal(coseProtectedHeader{Alg: algEdDSA, Address: address})
	if err != nil {
		return false, fmt.Errorf("marshal protected header: %w", err)
	}
	sigStructure, err := cbor.Marshal([]any{
		"Signature1",
		protected,
		[]byte{},
		message,
	})
	if err != nil {
		return false, fmt.Errorf("marshal sig_structure: %w", err)
	}

	return ed25519.Verify(pub, sigStructure, sig), nil
}
