package playbook

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/opt-outta/engine/internal/errs"
)

// DefaultPublicKeyBase64 is the fallback Ed25519 verification key, matching
// the original implementation's build-time default. internal/appconfig
// overrides this at runtime when a production key is configured.
const DefaultPublicKeyBase64 = "AsWpThdraJZ589wFqx/wHkFAnl0GY7kRjATEFoaSBCg="

// Verifier checks a playbook's detached Ed25519 signature over its
// canonical step serialization (spec.md §4.5, component C5).
type Verifier struct {
	publicKey ed25519.PublicKey
}

// NewVerifier builds a Verifier from a base64-encoded 32-byte Ed25519
// public key.
func NewVerifier(publicKeyBase64 string) (*Verifier, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "playbook: decode verification public key", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errs.New(errs.KindConfiguration, "playbook: verification public key has wrong length")
	}
	return &Verifier{publicKey: ed25519.PublicKey(raw)}, nil
}

// Verify checks p's detached signature. Non-local playbooks without a
// valid signature must never reach the executor (spec.md §3 invariant);
// callers are expected to skip this check only for p.IsLocal().
func (v *Verifier) Verify(p *Playbook) error {
	if p.Signature == "" {
		return errs.New(errs.KindSignature, "playbook is missing a signature")
	}
	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return errs.Wrap(errs.KindSignature, "playbook: decode signature", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return errs.New(errs.KindSignature, "playbook: signature must be exactly 64 bytes")
	}

	message := Canonicalize(p.Steps)
	if !ed25519.Verify(v.publicKey, message, sig) {
		return errs.New(errs.KindSignature, "playbook signature verification failed")
	}
	return nil
}
