package crypto

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// IssuerKeyring holds the issuer-id -> Ed25519 public key map the signature
// verifier consults on the hot path (SPEC_FULL.md §4.4). It is one of the
// three cache-store entries described in §4.2: the background refresher
// replaces it wholesale on each successful fetch; hot-path reads never
// block on that replacement.
type IssuerKeyring struct {
	mu        sync.RWMutex
	verifiers map[string]*Ed25519Verifier
}

// NewIssuerKeyring returns an empty keyring.
func NewIssuerKeyring() *IssuerKeyring {
	return &IssuerKeyring{verifiers: make(map[string]*Ed25519Verifier)}
}

// NewIssuerKeyringFromHex builds a keyring from issuer-id -> hex-encoded
// public key pairs, as decoded by the background refresher from the
// issuer_public_keys field of its issuer-keys fetch.
func NewIssuerKeyringFromHex(keys map[string]string) (*IssuerKeyring, error) {
	ring := NewIssuerKeyring()
	for issuerID, hexKey := range keys {
		raw, err := decodeHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("issuer %s: invalid public key hex: %w", issuerID, err)
		}
		v, err := NewEd25519Verifier(raw)
		if err != nil {
			return nil, fmt.Errorf("issuer %s: %w", issuerID, err)
		}
		ring.verifiers[issuerID] = v
	}
	return ring, nil
}

// Lookup returns the verifier registered for issuerID, if any.
func (k *IssuerKeyring) Lookup(issuerID string) (*Ed25519Verifier, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.verifiers[issuerID]
	return v, ok
}

// Set registers or replaces the key for a single issuer. Used by tests and
// by trust_networks-driven static configuration.
func (k *IssuerKeyring) Set(issuerID string, pubKeyHex string) error {
	raw, err := decodeHex(pubKeyHex)
	if err != nil {
		return err
	}
	v, err := NewEd25519Verifier(raw)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.verifiers[issuerID] = v
	return nil
}

// Snapshot returns a defensive copy of the issuer -> hex-key map, for
// diagnostics and persistence.
func (k *IssuerKeyring) Snapshot() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.verifiers))
	for issuerID, v := range k.verifiers {
		out[issuerID] = hex.EncodeToString(v.PublicKey)
	}
	return out
}

// Len reports how many issuers are registered.
func (k *IssuerKeyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.verifiers)
}
