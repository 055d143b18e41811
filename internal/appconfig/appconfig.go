// Package appconfig loads the engine's runtime configuration from a TOML
// file, creating a development default on first run (spec.md §9's
// "runtime configuration with a documented dev fallback" design note).
package appconfig

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/opt-outta/engine/internal/errs"
	"github.com/opt-outta/engine/internal/playbook"
)

const fileName = "config.toml"

// Config is the engine's runtime configuration.
type Config struct {
	// DataDir is the application data directory holding profile.enc,
	// submissions.json, local_playbooks.json, submission_tracker.json and
	// registry_cache.json.
	DataDir string `toml:"data_dir"`

	// Environment is "production", "development" or "sandbox".
	Environment string `toml:"environment"`

	// RegistryBaseURL is the community registry's API base URL.
	RegistryBaseURL string `toml:"registry_base_url"`

	// SandboxBearerToken authenticates sandbox-mode requests in place of
	// Ed25519 signing.
	SandboxBearerToken string `toml:"sandbox_bearer_token"`

	// SigningSeedBase64 is the 32-byte Ed25519 seed this engine signs
	// outbound registry requests with.
	SigningSeedBase64 string `toml:"signing_seed_base64"`

	// PlaybookPublicKeyBase64 is the 32-byte Ed25519 public key this
	// engine verifies community playbook signatures against. Defaults to
	// playbook.DefaultPublicKeyBase64 when empty.
	PlaybookPublicKeyBase64 string `toml:"playbook_public_key_base64"`

	// AppVersion is reported in outcome telemetry.
	AppVersion string `toml:"app_version"`
}

func defaultConfig(dataDir string) Config {
	return Config{
		DataDir:         dataDir,
		Environment:     "development",
		RegistryBaseURL: "https://opt-outta.com/api/v1",
		AppVersion:      "dev",
	}
}

// Load reads configPath, writing a development default (with a freshly
// generated dev-only signing seed, never accepted by the production API)
// if the file does not exist yet.
func Load(configPath string) (*Config, error) {
	dataDir := filepath.Dir(configPath)

	raw, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		cfg := defaultConfig(dataDir)
		_, priv, genErr := ed25519.GenerateKey(nil)
		if genErr != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "appconfig: generate dev signing seed", genErr)
		}
		cfg.SigningSeedBase64 = base64.StdEncoding.EncodeToString(priv.Seed())
		cfg.PlaybookPublicKeyBase64 = playbook.DefaultPublicKeyBase64

		if writeErr := save(configPath, &cfg); writeErr != nil {
			return nil, writeErr
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "appconfig: read config", err)
	}

	var cfg Config
	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "appconfig: parse config", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.PlaybookPublicKeyBase64 == "" {
		cfg.PlaybookPublicKeyBase64 = playbook.DefaultPublicKeyBase64
	}
	return &cfg, nil
}

func save(configPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return errs.Wrap(errs.KindConfiguration, "appconfig: create config dir", err)
	}
	f, err := os.OpenFile(configPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "appconfig: create config file", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return errs.Wrap(errs.KindConfiguration, "appconfig: write config", err)
	}
	return nil
}

// SigningSeed decodes SigningSeedBase64 into a 32-byte Ed25519 seed.
func (c *Config) SigningSeed() ([]byte, error) {
	seed, err := base64.StdEncoding.DecodeString(c.SigningSeedBase64)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "appconfig: decode signing seed", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errs.New(errs.KindConfiguration, "appconfig: signing seed must be exactly 32 bytes")
	}
	return seed, nil
}

// IsSandbox reports whether this config should run against the sandbox
// registry with bearer-token auth.
func (c *Config) IsSandbox() bool { return c.Environment == "sandbox" }
