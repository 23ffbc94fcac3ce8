package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

// Signer issues Ed25519 signatures over credential and receipt canonical
// payloads, and verifies them given the appropriate public key.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	SignCredential(c *contracts.Credential) error
	SignReceipt(r *contracts.ConsumptionReceipt) error
}

// Ed25519Signer is the default Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

// NewEd25519Signer generates a fresh Ed25519 keypair, for tests and
// bootstrap tooling.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key, as loaded from the
// gate's configured signing key material.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{privKey: priv, pubKey: priv.Public().(ed25519.PublicKey), KeyID: keyID}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// SignCredential computes the canonical signed payload and stamps the
// resulting signature onto the credential.
func (s *Ed25519Signer) SignCredential(c *contracts.Credential) error {
	payload, err := CredentialSignedBytes(c.Payload())
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}

// SignReceipt computes the canonical signed payload (proof excluded) and
// stamps the resulting signature/key-id onto the receipt's detached proof.
func (s *Ed25519Signer) SignReceipt(r *contracts.ConsumptionReceipt) error {
	payload, err := ReceiptSignedBytes(r)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	r.Proof = contracts.Proof{KeyID: s.KeyID, Signature: sig}
	return nil
}

// Verify checks a hex-encoded Ed25519 signature against a hex-encoded
// public key and raw message bytes. Per SPEC_FULL.md §6, an optional "0x"
// prefix is accepted on either hex string.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := decodeHex(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := decodeHex(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// VerifyCredentialSignature verifies a credential's signature against an
// issuer's known public key (hex-encoded).
func VerifyCredentialSignature(c *contracts.Credential, issuerPubKeyHex string) (bool, error) {
	if c.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	payload, err := CredentialSignedBytes(c.Payload())
	if err != nil {
		return false, err
	}
	return Verify(issuerPubKeyHex, c.Signature, payload)
}

// VerifyReceiptSignature verifies a receipt's detached proof against the
// gate's public key (hex-encoded).
func VerifyReceiptSignature(r *contracts.ConsumptionReceipt, gatePubKeyHex string) (bool, error) {
	if r.Proof.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	payload, err := ReceiptSignedBytes(r)
	if err != nil {
		return false, err
	}
	return Verify(gatePubKeyHex, r.Proof.Signature, payload)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// DecodeSignatureHex decodes a hex-encoded signature, tolerating an optional
// "0x"/"0X" prefix. Exported for callers (such as the verification pipeline)
// that hold a precomputed Ed25519Verifier and need only the raw signature
// bytes, not the full Verify/VerifyCredentialSignature round trip.
func DecodeSignatureHex(s string) ([]byte, error) {
	return decodeHex(s)
}
