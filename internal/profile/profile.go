// Package profile stores the user's personal-data profile, encrypted at
// rest under the secrets cache's master key (spec.md §4.3).
package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/opt-outta/engine/internal/envelope"
	"github.com/opt-outta/engine/internal/errs"
	"github.com/opt-outta/engine/internal/secrets"
)

const fileName = "profile.enc"

// PreviousAddress records a prior residence, used by brokers that key
// records on address history.
type PreviousAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
}

// Profile is the user's personal-data profile. Every field is PII and must
// never be logged, signed, or sent anywhere but a broker's own form fields.
type Profile struct {
	FirstName         string            `json:"first_name"`
	LastName          string            `json:"last_name"`
	Email             string            `json:"email"`
	Phone             string            `json:"phone"`
	Address           string            `json:"address"`
	City              string            `json:"city"`
	State             string            `json:"state"`
	Zip               string            `json:"zip"`
	DateOfBirth       string            `json:"date_of_birth"`
	AlternateEmails   []string          `json:"alternate_emails,omitempty"`
	AlternatePhones   []string          `json:"alternate_phones,omitempty"`
	PreviousAddresses []PreviousAddress `json:"previous_addresses,omitempty"`
}

// Store persists a single Profile, sealed under the secrets cache's master
// key, in a single file under dataDir.
type Store struct {
	secrets *secrets.Cache
	dataDir string
}

// NewStore builds a Store rooted at dataDir, using cache for encryption.
func NewStore(cache *secrets.Cache, dataDir string) *Store {
	return &Store{secrets: cache, dataDir: dataDir}
}

func (s *Store) path() string {
	return filepath.Join(s.dataDir, fileName)
}

// Save encrypts and writes p, overwriting any existing profile.
func (s *Store) Save(p *Profile) error {
	key, err := s.secrets.Get()
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return errs.Wrap(errs.KindCrypto, "profile: encode", err)
	}
	sealed, err := envelope.Seal(plaintext, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return errs.Wrap(errs.KindConfiguration, "profile: create data dir", err)
	}
	if err := os.WriteFile(s.path(), []byte(sealed), 0o600); err != nil {
		return errs.Wrap(errs.KindConfiguration, "profile: write file", err)
	}
	return nil
}

// Get reads and decrypts the stored profile. A missing file is not an
// error: it returns (nil, nil), matching a fresh install with no profile
// saved yet.
func (s *Store) Get() (*Profile, error) {
	raw, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "profile: read file", err)
	}

	key, err := s.secrets.Get()
	if err != nil {
		return nil, err
	}
	plaintext, err := envelope.Open(string(raw), key)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "profile: decode", err)
	}
	return &p, nil
}

// Delete removes the stored profile. It is not an error if none exists.
func (s *Store) Delete() error {
	err := os.Remove(s.path())
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindConfiguration, "profile: delete file", err)
	}
	return nil
}

// Resolve looks up a profile field by key, supporting the "combine:" form
// (e.g. "combine:firstName+lastName") that joins several fields with a
// single space, silently dropping any component that is empty or unknown.
// An unrecognized bare key returns ("", false).
func Resolve(p *Profile, key string) (string, bool) {
	if p == nil {
		return "", false
	}
	if rest, ok := strings.CutPrefix(key, "combine:"); ok {
		parts := strings.Split(rest, "+")
		values := make([]string, 0, len(parts))
		for _, part := range parts {
			if v, ok := field(p, part); ok && v != "" {
				values = append(values, v)
			}
		}
		return strings.Join(values, " "), true
	}
	return field(p, key)
}

func field(p *Profile, key string) (string, bool) {
	switch key {
	case "firstName":
		return p.FirstName, true
	case "lastName":
		return p.LastName, true
	case "email":
		return p.Email, true
	case "phone":
		return p.Phone, true
	case "address":
		return p.Address, true
	case "city":
		return p.City, true
	case "state":
		return p.State, true
	case "zip":
		return p.Zip, true
	case "dob":
		return p.DateOfBirth, true
	case "fullName":
		parts := make([]string, 0, 2)
		if p.FirstName != "" {
			parts = append(parts, p.FirstName)
		}
		if p.LastName != "" {
			parts = append(parts, p.LastName)
		}
		return strings.Join(parts, " "), true
	default:
		return "", false
	}
}
