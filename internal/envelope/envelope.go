// Package envelope implements the AES-256-GCM seal/open primitive that
// protects the profile blob at rest (spec.md §4.1).
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/opt-outta/engine/internal/errs"
)

// KeySize is the required master key length in bytes.
const KeySize = 32

// NonceSize is the random nonce length prepended to every ciphertext.
const NonceSize = 12

// Seal encrypts plaintext under key and returns
// base64(nonce || ciphertext || tag). A fresh random nonce is drawn for
// every call, so sealing the same plaintext twice never produces the same
// output (spec.md §8, scenario S1).
func Seal(plaintext []byte, key [KeySize]byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", errs.Wrap(errs.KindCrypto, "envelope: init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errs.Wrap(errs.KindCrypto, "envelope: init gcm", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errs.Wrap(errs.KindCrypto, "envelope: generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It fails distinctly for malformed base64, a blob too
// short to contain a nonce, and a ciphertext whose tag does not verify.
func Open(encoded string, key [KeySize]byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "envelope: decode base64", err)
	}
	if len(raw) <= NonceSize {
		return nil, errs.New(errs.KindCrypto, "envelope: ciphertext too short")
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "envelope: init cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "envelope: init gcm", err)
	}

	nonce, ciphertext := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "envelope: authentication failed", err)
	}
	return plaintext, nil
}
