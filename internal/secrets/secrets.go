// Package secrets caches the engine's single master key, backed by the OS
// keychain (spec.md §4.2). Grounded in the teacher's keystore pattern
// (crypto/keystore.go loads/writes a single credential file with restrictive
// permissions); here the credential lives in the OS keychain instead of on
// disk, via github.com/zalando/go-keyring.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/opt-outta/engine/internal/envelope"
	"github.com/opt-outta/engine/internal/errs"
)

const (
	serviceName = "opt-outta"
	entryName   = "secrets"
)

// storedSecrets is the JSON envelope kept in the single keychain slot.
// Additional secrets may be added to this struct without migrating the slot
// (spec.md §4.2).
type storedSecrets struct {
	EncryptionKey string `json:"encryption_key"`
}

// Cache holds the master key in process memory after a single Load.
type Cache struct {
	mu             sync.Mutex
	loaded         bool
	encryptionKey  [envelope.KeySize]byte
	keyringService string // keychain service name; New sets it to serviceName
}

// New returns an unloaded Cache.
func New() *Cache {
	return &Cache{keyringService: serviceName}
}

// Load reads the keychain entry into memory, generating and persisting a
// fresh 32-byte key on first run. Safe to call more than once; subsequent
// calls are no-ops.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	raw, err := keyring.Get(c.keyringService, entryName)
	var stored storedSecrets
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal([]byte(raw), &stored); jsonErr != nil {
			return errs.Wrap(errs.KindCrypto, "secrets: parse keychain entry", jsonErr)
		}
	case errors.Is(err, keyring.ErrNotFound):
		keyBytes := make([]byte, envelope.KeySize)
		if _, randErr := io.ReadFull(rand.Reader, keyBytes); randErr != nil {
			return errs.Wrap(errs.KindCrypto, "secrets: generate key", randErr)
		}
		stored = storedSecrets{EncryptionKey: base64.StdEncoding.EncodeToString(keyBytes)}
		payload, marshalErr := json.Marshal(stored)
		if marshalErr != nil {
			return errs.Wrap(errs.KindCrypto, "secrets: encode keychain entry", marshalErr)
		}
		if setErr := keyring.Set(c.keyringService, entryName, string(payload)); setErr != nil {
			return errs.Wrap(errs.KindCrypto, "secrets: write keychain entry", setErr)
		}
	default:
		return errs.Wrap(errs.KindCrypto, "secrets: read keychain entry", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(stored.EncryptionKey)
	if err != nil {
		return errs.Wrap(errs.KindCrypto, "secrets: decode encryption key", err)
	}
	if len(decoded) != envelope.KeySize {
		return errs.New(errs.KindCrypto, "secrets: encryption key has wrong length")
	}
	copy(c.encryptionKey[:], decoded)
	c.loaded = true
	return nil
}

// Get returns the cached master key. It fails with a Crypto "not loaded"
// error if Load has not run.
func (c *Cache) Get() ([envelope.KeySize]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return [envelope.KeySize]byte{}, errs.New(errs.KindCrypto, "secrets not loaded")
	}
	return c.encryptionKey, nil
}
