package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

// CanonicalMarshal marshals v into a compact JSON encoding with HTML
// escaping disabled and no trailing newline. Field order for struct values
// is Go's declaration order, which is exactly the "fields in this exact
// order, undefined fields omitted" requirement of the credential and
// receipt signing payloads (SPEC_FULL.md §4.4/§4.9) — this is why those
// payloads are plain structs with `omitempty` rather than maps: a map would
// need sorting (JCS, see pkg/canonicalize) and sorting is the wrong
// behavior when the field order is normative, not incidental.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	ret := buf.Bytes()
	if len(ret) > 0 && ret[len(ret)-1] == '\n' {
		ret = ret[:len(ret)-1]
	}
	return ret, nil
}

// credentialWire mirrors contracts.SignedPayload field-for-field but adds
// the JSON tags and omitempty behavior the wire format requires; it exists
// so contracts stays free of signing-specific marshaling concerns.
type credentialWire struct {
	CredentialID      string                  `json:"credential_id"`
	IssuerID          string                  `json:"issuer_id"`
	SubjectID         string                  `json:"subject_id"`
	GateID            string                  `json:"gate_id"`
	Claims            []contracts.Claim       `json:"claims"`
	Constraints       contracts.ConstraintMap `json:"constraints,omitempty"`
	ExpiresAt         string                  `json:"expires_at"`
	IssuedAt          string                  `json:"issued_at"`
	CatalogVersionPin map[string]int          `json:"catalog_version_pin,omitempty"`
}

// CredentialSignedBytes produces the canonical byte sequence a credential's
// signature is computed over, per SPEC_FULL.md §4.4's declared field order.
func CredentialSignedBytes(p contracts.SignedPayload) ([]byte, error) {
	wire := credentialWire{
		CredentialID:      p.CredentialID,
		IssuerID:          p.IssuerID,
		SubjectID:         p.SubjectID,
		GateID:            p.GateID,
		Claims:            p.Claims,
		Constraints:       p.Constraints,
		ExpiresAt:         p.ExpiresAt.UTC().Format(time.RFC3339Nano),
		IssuedAt:          p.IssuedAt.UTC().Format(time.RFC3339Nano),
		CatalogVersionPin: p.CatalogVersionPin,
	}
	if len(wire.Claims) == 0 {
		wire.Claims = []contracts.Claim{}
	}
	return CanonicalMarshal(wire)
}

// receiptWire mirrors contracts.ConsumptionReceipt with the Proof field
// excluded, per SPEC_FULL.md §6: "proof excluded from the signed bytes".
type receiptWire struct {
	Type                 string                    `json:"type"`
	ReceiptID            string                    `json:"receipt_id"`
	GateID               string                    `json:"gate_id"`
	SubjectID            string                    `json:"subject_id"`
	CredentialID         string                    `json:"credential_id"`
	PermissionKey        string                    `json:"permission_key"`
	CatalogVersion       int                       `json:"catalog_version"`
	RequestNonce         string                    `json:"request_nonce,omitempty"`
	EffectiveConstraints contracts.ConstraintMap   `json:"effective_constraints"`
	Consumption          contracts.Consumption     `json:"consumption"`
}

// ReceiptSignedBytes produces the canonical byte sequence a receipt's
// signature is computed over.
func ReceiptSignedBytes(r *contracts.ConsumptionReceipt) ([]byte, error) {
	wire := receiptWire{
		Type:                 r.Type,
		ReceiptID:            r.ReceiptID,
		GateID:               r.GateID,
		SubjectID:            r.SubjectID,
		CredentialID:         r.CredentialID,
		PermissionKey:        r.PermissionKey,
		CatalogVersion:       r.CatalogVersion,
		RequestNonce:         r.RequestNonce,
		EffectiveConstraints: r.EffectiveConstraints,
		Consumption:          r.Consumption,
	}
	return CanonicalMarshal(wire)
}
