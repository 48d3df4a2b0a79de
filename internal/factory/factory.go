// Package factory implements lazy, cache-by-(portal,branch) construction
// of portal connectors from configuration, keeping one connector
// instance per (portal, branch) pair for the lifetime of the process.
package factory

import (
	"fmt"
	"sync"

	"github.com/nphies/claims-core/internal/connector"
)

// NPHIESPortalConfig supplies the per-branch NPHIES configuration the
// factory needs to lazily construct a connector.NPHIESConnector.
type NPHIESPortalConfig struct {
	Config    connector.NPHIESConfig
	OnWarning func(string)
}

// LegacyPortalConfig supplies the per-branch legacy configuration.
// BaseURL/paths are shared across branches of the same portal; only the
// branch name varies.
type LegacyPortalConfig struct {
	Config connector.LegacyConfig
}

// Config is the static configuration the Factory builds connectors from,
// keyed by portal name: oases (branches riyadh, madinah, unaizah,
// khamis, jizan, abha), plus moh, jisr, bupa.
type Config struct {
	NPHIES NPHIESPortalConfig
	Legacy map[string]LegacyPortalConfig // keyed by portal name
}

// DefaultLegacyBranches is the standard oases branch set.
var DefaultLegacyBranches = []string{"riyadh", "madinah", "unaizah", "khamis", "jizan", "abha"}

// key identifies one cached connector instance.
type key struct {
	portal string
	branch string
}

// Factory is the connector factory: Get constructs on first call per
// (portal, branch) and caches thereafter; it never validates credentials
// at construction time.
type Factory struct {
	cfg Config

	mu         sync.Mutex
	connectors map[key]connector.Connector
}

// New returns a Factory that will lazily build connectors from cfg.
func New(cfg Config) *Factory {
	return &Factory{cfg: cfg, connectors: make(map[key]connector.Connector)}
}

// Get returns the cached connector for (portal, branch), constructing it
// on first call. branch may be empty for portals that don't distinguish
// branches (e.g. nphies itself, moh, jisr, bupa).
func (f *Factory) Get(portal, branch string) (connector.Connector, error) {
	k := key{portal: portal, branch: branch}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.connectors[k]; ok {
		return c, nil
	}

	c, err := f.build(portal, branch)
	if err != nil {
		return nil, err
	}
	f.connectors[k] = c
	return c, nil
}

func (f *Factory) build(portal, branch string) (connector.Connector, error) {
	if portal == "nphies" {
		c, err := connector.NewNPHIESConnector(f.cfg.NPHIES.Config, branch, f.cfg.NPHIES.OnWarning)
		if err != nil {
			return nil, fmt.Errorf("factory: building nphies connector: %w", err)
		}
		return c, nil
	}

	lp, ok := f.cfg.Legacy[portal]
	if !ok {
		return nil, fmt.Errorf("factory: unknown portal %q", portal)
	}
	c, err := connector.NewLegacyConnector(lp.Config, branch)
	if err != nil {
		return nil, fmt.Errorf("factory: building %s connector: %w", portal, err)
	}
	return c, nil
}

// Branches reports the configured branch set for a legacy portal, or the
// single-element set {""} for portals that don't use branches. The
// Orchestrator uses this to fan out LEGACY_ONLY/ALL_PORTALS submissions
// across every branch of a named portal.
func (f *Factory) Branches(portal string, configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	if portal == "oases" {
		return DefaultLegacyBranches
	}
	return []string{""}
}

// CloseAll releases every constructed connector's HTTP pool, invoked at
// shutdown.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for k, c := range f.connectors {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("factory: closing %s/%s: %w", k.portal, k.branch, err)
		}
	}
	return firstErr
}

// LegacyPortals returns the configured legacy portal names, excluding
// nphies.
func (f *Factory) LegacyPortals() []string {
	names := make([]string, 0, len(f.cfg.Legacy))
	for name := range f.cfg.Legacy {
		names = append(names, name)
	}
	return names
}
