// Package permissions implements the capability-scoped Permission Manager
// of spec.md §4.4: per-run, immutable allow-list assertions over
// filesystem paths, CLI command patterns and network domains. Generalized
// from pkg/security's certificate/secret allow-deny checks in the teacher
// repo to the three grant kinds spec.md defines.
package permissions

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// Manager holds an immutable policy snapshot for the life of one run.
type Manager struct {
	policy studiotypes.PermissionPolicy
	logger zerolog.Logger
}

// New returns a Manager over policy. The policy is never mutated by the
// Manager — only the Service Facade may add grants, and never to a
// snapshot already handed to a run.
func New(policy studiotypes.PermissionPolicy, logger zerolog.Logger) *Manager {
	return &Manager{policy: policy, logger: logger.With().Str("component", "permissions").Logger()}
}

func (m *Manager) grantsFor(cap studiotypes.GrantCapability) []studiotypes.Grant {
	var out []studiotypes.Grant
	for _, g := range m.policy.Grants {
		if g.Capability == cap {
			out = append(out, g)
		}
	}
	return out
}

// AssertFilesystemPath succeeds iff some filesystem grant allows p.
func (m *Manager) AssertFilesystemPath(p string) error {
	normalized := filepath.Clean(p)
	for _, g := range m.grantsFor(studiotypes.CapFilesystem) {
		for _, allowed := range g.Scope.AllowedPaths {
			if allowed == "*" || allowed == "/" {
				return nil
			}
			allowedClean := filepath.Clean(allowed)
			if normalized == allowedClean || strings.HasPrefix(normalized, allowedClean+string(filepath.Separator)) {
				return nil
			}
		}
	}
	m.logger.Warn().Str("subject", p).Msg("filesystem permission denied")
	return &studioerr.PermissionDenied{Capability: "filesystem", Subject: p, Reason: "no grant covers this path"}
}

// AssertCliCommand succeeds iff some cli grant's glob pattern matches c.
// '*' matches any substring, '?' matches exactly one character.
func (m *Manager) AssertCliCommand(c string) error {
	for _, g := range m.grantsFor(studiotypes.CapCLI) {
		for _, pattern := range g.Scope.AllowedCommandPatterns {
			if pattern == "*" || globMatch(pattern, c) {
				return nil
			}
		}
	}
	m.logger.Warn().Str("subject", c).Msg("cli permission denied")
	return &studioerr.PermissionDenied{Capability: "cli", Subject: c, Reason: "no grant covers this command"}
}

// AssertNetworkUrl requires HTTPS and succeeds iff some network grant
// allows u's hostname.
func (m *Manager) AssertNetworkUrl(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return &studioerr.PermissionDenied{Capability: "network", Subject: u, Reason: "unparseable url"}
	}
	if parsed.Scheme != "https" {
		m.logger.Warn().Str("subject", u).Msg("network permission denied: non-https")
		return &studioerr.PermissionDenied{Capability: "network", Subject: u, Reason: "only https is permitted"}
	}
	host := parsed.Hostname()
	for _, g := range m.grantsFor(studiotypes.CapNetwork) {
		for _, domain := range g.Scope.AllowedDomains {
			if domain == "*" || host == domain || strings.HasSuffix(host, "."+domain) {
				return nil
			}
		}
	}
	m.logger.Warn().Str("subject", u).Msg("network permission denied")
	return &studioerr.PermissionDenied{Capability: "network", Subject: u, Reason: "no grant covers this domain"}
}

// globMatch implements the '*'/'?' glob semantics of spec.md §4.4 without
// pulling in a filesystem-glob library (filepath.Match treats '/' and
// escaping differently than the simple substring/single-char semantics
// the spec calls for).
func globMatch(pattern, s string) bool {
	return matchGlob([]rune(pattern), []rune(s))
}

func matchGlob(pattern, s []rune) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(s); i++ {
			if matchGlob(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return matchGlob(pattern[1:], s[1:])
	default:
		if len(s) == 0 || pattern[0] != s[0] {
			return false
		}
		return matchGlob(pattern[1:], s[1:])
	}
}
