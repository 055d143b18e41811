// Package registry picks between the bundled and cached broker registries
// by version, and syncs the cache from the remote registry (spec.md §4.10,
// component C10).
package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opt-outta/engine/internal/errs"
	"github.com/opt-outta/engine/internal/playbook"
)

const cacheFileName = "registry_cache.json"

// Fetcher is the subset of internal/registryapi.Client the cache needs to
// sync: fetching the remote version and, when newer, the full registry.
type Fetcher interface {
	RegistryVersion(ctx context.Context) (string, error)
	FetchRegistry(ctx context.Context) (*playbook.BrokerRegistry, error)
}

// Cache resolves the current registry and refreshes it from the remote.
type Cache struct {
	dataDir string
	bundled *playbook.BrokerRegistry
	fetcher Fetcher
}

// NewCache builds a Cache. bundled is the registry shipped inside the
// application; it is always a valid fallback.
func NewCache(dataDir string, bundled *playbook.BrokerRegistry, fetcher Fetcher) *Cache {
	return &Cache{dataDir: dataDir, bundled: bundled, fetcher: fetcher}
}

func (c *Cache) cachePath() string { return filepath.Join(c.dataDir, cacheFileName) }

func (c *Cache) loadCached() (*playbook.BrokerRegistry, error) {
	raw, err := os.ReadFile(c.cachePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "registry: read cache", err)
	}
	var reg playbook.BrokerRegistry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "registry: parse cache", err)
	}
	return &reg, nil
}

func (c *Cache) saveCached(reg *playbook.BrokerRegistry) error {
	if err := os.MkdirAll(c.dataDir, 0o700); err != nil {
		return errs.Wrap(errs.KindConfiguration, "registry: create data dir", err)
	}
	encoded, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "registry: encode cache", err)
	}
	return errs.Wrap(errs.KindConfiguration, "registry: write cache", os.WriteFile(c.cachePath(), encoded, 0o600))
}

// Current returns the bundled registry unless a cached registry exists
// with a strictly greater version.
func (c *Cache) Current() (*playbook.BrokerRegistry, error) {
	cached, err := c.loadCached()
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return c.bundled, nil
	}
	if VersionGreater(cached.Version, c.bundled.Version) {
		return cached, nil
	}
	return c.bundled, nil
}

// Sync checks the remote version; if it is strictly greater than the
// current registry's version, fetches and caches the full registry.
func (c *Cache) Sync(ctx context.Context) error {
	current, err := c.Current()
	if err != nil {
		return err
	}
	remoteVersion, err := c.fetcher.RegistryVersion(ctx)
	if err != nil {
		return err
	}
	if !VersionGreater(remoteVersion, current.Version) {
		return nil
	}
	reg, err := c.fetcher.FetchRegistry(ctx)
	if err != nil {
		return err
	}
	return c.saveCached(reg)
}

// VersionGreater reports whether a is strictly greater than b. Versions
// that both parse as integers compare numerically; otherwise it falls back
// to a lexical string comparison. This resolves an open question
// SPEC_FULL.md introduces: the distilled spec does not name a version
// format, and the registry may emit either integers ("3") or date-like
// strings ("2026.07.31") over time.
func VersionGreater(a, b string) bool {
	an, aErr := strconv.Atoi(strings.TrimSpace(a))
	bn, bErr := strconv.Atoi(strings.TrimSpace(b))
	if aErr == nil && bErr == nil {
		return an > bn
	}
	return a > b
}
