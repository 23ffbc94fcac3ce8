package crypto

import (
	"crypto/ed25519"
	"fmt"
)

// Ed25519Verifier holds a raw public key for repeated verification against
// precomputed material, avoiding a hex decode on every hot-path call — the
// keyring decodes once at refresh time and hands out Ed25519Verifiers.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

// NewEd25519Verifier builds a verifier from raw public key bytes.
func NewEd25519Verifier(pubKeyBytes []byte) (*Ed25519Verifier, error) {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(pubKeyBytes))
	}
	return &Ed25519Verifier{PublicKey: ed25519.PublicKey(pubKeyBytes)}, nil
}

// Verify checks a raw signature over raw message bytes.
func (v *Ed25519Verifier) Verify(message []byte, signature []byte) bool {
	return ed25519.Verify(v.PublicKey, message, signature)
}
