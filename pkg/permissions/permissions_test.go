package permissions

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/systemsculpt/studio/pkg/studiotypes"
)

func emptyPolicy() studiotypes.PermissionPolicy {
	return studiotypes.PermissionPolicy{Version: 1}
}

func TestEmptyGrants_DenyAll(t *testing.T) {
	m := New(emptyPolicy(), zerolog.Nop())
	assert.Error(t, m.AssertFilesystemPath("/tmp/x"))
	assert.Error(t, m.AssertCliCommand("ffmpeg"))
	assert.Error(t, m.AssertNetworkUrl("https://api.example.com/x"))
}

func TestFilesystemGrant_PrefixAndWildcard(t *testing.T) {
	policy := studiotypes.PermissionPolicy{
		Grants: []studiotypes.Grant{
			{Capability: studiotypes.CapFilesystem, Scope: studiotypes.GrantScope{AllowedPaths: []string{"/vault/project"}}},
		},
	}
	m := New(policy, zerolog.Nop())
	assert.NoError(t, m.AssertFilesystemPath("/vault/project"))
	assert.NoError(t, m.AssertFilesystemPath("/vault/project/assets/a.png"))
	assert.Error(t, m.AssertFilesystemPath("/vault/other"))

	wildcard := studiotypes.PermissionPolicy{
		Grants: []studiotypes.Grant{{Capability: studiotypes.CapFilesystem, Scope: studiotypes.GrantScope{AllowedPaths: []string{"*"}}}},
	}
	m2 := New(wildcard, zerolog.Nop())
	assert.NoError(t, m2.AssertFilesystemPath("/anything/at/all"))
}

func TestCliGrant_GlobPattern(t *testing.T) {
	policy := studiotypes.PermissionPolicy{
		Grants: []studiotypes.Grant{
			{Capability: studiotypes.CapCLI, Scope: studiotypes.GrantScope{AllowedCommandPatterns: []string{"ffmpe?"}}},
		},
	}
	m := New(policy, zerolog.Nop())
	assert.NoError(t, m.AssertCliCommand("ffmpeg"))
	assert.Error(t, m.AssertCliCommand("curl"))

	wide := studiotypes.PermissionPolicy{
		Grants: []studiotypes.Grant{{Capability: studiotypes.CapCLI, Scope: studiotypes.GrantScope{AllowedCommandPatterns: []string{"git *"}}}},
	}
	m2 := New(wide, zerolog.Nop())
	assert.NoError(t, m2.AssertCliCommand("git log"))
	assert.Error(t, m2.AssertCliCommand("gitlog"))
}

func TestNetworkGrant_HTTPSOnlyAndDomainSuffix(t *testing.T) {
	policy := studiotypes.PermissionPolicy{
		Grants: []studiotypes.Grant{
			{Capability: studiotypes.CapNetwork, Scope: studiotypes.GrantScope{AllowedDomains: []string{"systemsculpt.com"}}},
		},
	}
	m := New(policy, zerolog.Nop())
	assert.NoError(t, m.AssertNetworkUrl("https://api.systemsculpt.com/v1/x"))
	assert.NoError(t, m.AssertNetworkUrl("https://systemsculpt.com/v1/x"))
	assert.Error(t, m.AssertNetworkUrl("https://evil.com/x"))
	assert.Error(t, m.AssertNetworkUrl("http://api.systemsculpt.com/x"), "http must always fail even for an allow-listed host")
}
