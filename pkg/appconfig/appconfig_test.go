package appconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

func defaultSchema(t *testing.T) *appconfig.Schema {
	t.Helper()
	s, err := appconfig.ResolveSchema(extension.DefaultSpecifications(), appconfig.ResolveOptions{})
	require.NoError(t, err)
	return s
}

func TestResolveSchemaMergesConfigurationFragments(t *testing.T) {
	s := defaultSchema(t)

	assert.True(t, s.Closed)
	assert.Equal(t, []string{"app_access", "app_home", "webhooks", "privacy_compliance_webhooks"}, s.Contributors)

	owner, ok := s.Owner("access_scopes")
	require.True(t, ok)
	assert.Equal(t, "app_access", owner)

	// Identical definitions of a shared section are not a collision.
	owner, ok = s.Owner("webhooks")
	require.True(t, ok)
	assert.Equal(t, "webhooks", owner)

	_, ok = s.Owner("ui_extension")
	assert.False(t, ok, "extension-experience specs contribute nothing")
}

func TestResolveSchemaCollision(t *testing.T) {
	a := extension.Specification{
		Identifier: "first", Experience: extension.ExperienceConfiguration, Kind: extension.KindConfig,
		SchemaFragment: map[string]any{"pos": map[string]any{"type": "object"}},
	}
	b := extension.Specification{
		Identifier: "second", Experience: extension.ExperienceConfiguration, Kind: extension.KindConfig,
		SchemaFragment: map[string]any{"pos": map[string]any{"type": "string"}},
	}
	_, err := appconfig.ResolveSchema([]extension.Specification{a, b}, appconfig.ResolveOptions{})
	require.ErrorIs(t, err, appconfig.ErrFieldCollision)
	assert.ErrorContains(t, err, `"pos" by first and second`)

	base := extension.Specification{
		Identifier: "shadow", Experience: extension.ExperienceConfiguration, Kind: extension.KindConfig,
		SchemaFragment: map[string]any{"client_id": map[string]any{"type": "number"}},
	}
	_, err = appconfig.ResolveSchema([]extension.Specification{base}, appconfig.ResolveOptions{})
	assert.ErrorIs(t, err, appconfig.ErrFieldCollision)
}

func TestResolveSchemaRejectsInvalidFragment(t *testing.T) {
	bad := extension.Specification{
		Identifier: "broken", Experience: extension.ExperienceConfiguration, Kind: extension.KindConfig,
		SchemaFragment: map[string]any{"x": map[string]any{"type": 12}},
	}
	_, err := appconfig.ResolveSchema([]extension.Specification{bad}, appconfig.ResolveOptions{})
	assert.ErrorContains(t, err, "schema fragment of broken")
}

func TestClassify(t *testing.T) {
	schema := defaultSchema(t)

	t.Run("legacy", func(t *testing.T) {
		cfg, err := appconfig.Classify(map[string]any{"scopes": "read_products", "client_id": int64(12)}, schema)
		require.NoError(t, err)
		assert.Equal(t, appconfig.KindLegacy, cfg.Kind())
		assert.Equal(t, "12", cfg.ClientID())
	})

	t.Run("empty document is legacy", func(t *testing.T) {
		cfg, err := appconfig.Classify(map[string]any{}, schema)
		require.NoError(t, err)
		assert.True(t, cfg.IsLegacy())
		assert.Equal(t, "", appconfig.Scopes(cfg))
	})

	t.Run("current with fragments", func(t *testing.T) {
		cfg, err := appconfig.Classify(map[string]any{
			"client_id":     "abc",
			"access_scopes": map[string]any{"scopes": "read_products, write_orders"},
			"webhooks":      map[string]any{"api_version": "2024-01"},
		}, schema)
		require.NoError(t, err)
		assert.Equal(t, appconfig.KindCurrent, cfg.Kind())
		assert.Equal(t, []string{"read_products", "write_orders"}, appconfig.ScopesArray(cfg))
	})

	t.Run("closed schema rejects unknown keys", func(t *testing.T) {
		_, err := appconfig.Classify(map[string]any{"client_id": "abc", "mystery": true}, schema)
		var verr *appconfig.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.NotEmpty(t, verr.Issues)
		assert.Contains(t, verr.Error(), "[current]")
		assert.Contains(t, verr.Error(), "[legacy]")
	})

	t.Run("neither reports field paths", func(t *testing.T) {
		_, err := appconfig.Classify(map[string]any{"client_id": "abc", "build": map[string]any{"include_config_on_deploy": "yes"}}, schema)
		var verr *appconfig.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields(), "/build/include_config_on_deploy")
	})

	t.Run("dynamic configs pass through", func(t *testing.T) {
		open, err := appconfig.ResolveSchema(extension.DefaultSpecifications(), appconfig.ResolveOptions{AllowDynamicallySpecifiedConfigs: true})
		require.NoError(t, err)
		assert.False(t, open.Closed)
		cfg, err := appconfig.Classify(map[string]any{"client_id": "abc", "mystery": true}, open)
		require.NoError(t, err)
		assert.True(t, cfg.IsCurrent())
	})

	t.Run("no specs gives an open schema", func(t *testing.T) {
		open, err := appconfig.ResolveSchema(nil, appconfig.ResolveOptions{})
		require.NoError(t, err)
		assert.False(t, open.Closed)
		cfg, err := appconfig.Classify(map[string]any{"client_id": "abc", "anything": 1}, open)
		require.NoError(t, err)
		assert.True(t, cfg.IsCurrent())
	})

	t.Run("nil schema", func(t *testing.T) {
		_, err := appconfig.Classify(map[string]any{}, nil)
		assert.Error(t, err)
	})
}

func TestScopeAccessors(t *testing.T) {
	legacy := appconfig.NewConfiguration(appconfig.KindLegacy, "", map[string]any{"scopes": "a,b"})
	assert.Equal(t, "a,b", appconfig.Scopes(legacy))
	assert.Equal(t, []string{"a", "b"}, appconfig.ScopesArray(legacy))
	assert.True(t, appconfig.UsesLegacyScopesBehavior(legacy))
	assert.False(t, appconfig.IncludeConfigOnDeploy(legacy))

	current := appconfig.NewConfiguration(appconfig.KindCurrent, "", map[string]any{"client_id": "x"})
	assert.Equal(t, "", appconfig.Scopes(current))
	assert.Empty(t, appconfig.ScopesArray(current))
	assert.False(t, appconfig.UsesLegacyScopesBehavior(current))

	current.Raw["access_scopes"] = map[string]any{"use_legacy_install_flow": true}
	current.Raw["build"] = map[string]any{"include_config_on_deploy": true, "automatically_update_urls_on_dev": true}
	assert.True(t, appconfig.UsesLegacyScopesBehavior(current))
	assert.True(t, appconfig.IncludeConfigOnDeploy(current))
	assert.True(t, appconfig.AutomaticallyUpdateURLsOnDev(current))

	assert.Empty(t, appconfig.ScopesArray(nil))
}

func TestFilterNonVersionedFields(t *testing.T) {
	got := appconfig.FilterNonVersionedFields(map[string]any{
		"client_id":     "x",
		"path":          "/tmp/app.toml",
		"webhooks":      map[string]any{},
		"access_scopes": map[string]any{},
		"build":         map[string]any{},
	})
	assert.Equal(t, []string{"access_scopes", "webhooks"}, got)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "app.toml", appconfig.FileName(""))
	assert.Equal(t, "app.toml", appconfig.FileName("default"))
	assert.Equal(t, "app.staging.toml", appconfig.FileName("staging"))
	assert.Equal(t, "app.my-store.toml", appconfig.FileName("My Store"))
	assert.Equal(t, "app.prod.toml", appconfig.FileName("app.prod.toml"))
}

func TestLoadAndWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	schema := defaultSchema(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.staging.toml"), []byte(`
client_id = "abc"

[access_scopes]
scopes = "read_products"

[build]
include_config_on_deploy = true
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.toml"), []byte("scopes = \"\"\n"), 0o644))

	files, err := appconfig.ConfigFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.toml", "app.staging.toml"}, files)

	cfg, err := appconfig.Load(dir, "staging", schema)
	require.NoError(t, err)
	assert.True(t, cfg.IsCurrent())
	assert.Equal(t, filepath.Join(dir, "app.staging.toml"), cfg.Path)
	assert.True(t, appconfig.IncludeConfigOnDeploy(cfg))

	cfg.Raw["access_scopes"].(map[string]any)["scopes"] = "read_products,write_products"
	require.NoError(t, appconfig.Write(cfg))

	reloaded, err := appconfig.Load(dir, "staging", schema)
	require.NoError(t, err)
	assert.Equal(t, []string{"read_products", "write_products"}, appconfig.ScopesArray(reloaded))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := appconfig.Load(dir, "", defaultSchema(t))
	assert.ErrorIs(t, err, appconfig.ErrConfigNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.toml"), []byte("client_id = \"x\"\nunknown = 1\n"), 0o644))
	_, err = appconfig.Load(dir, "", defaultSchema(t))
	var verr *appconfig.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, filepath.Join(dir, "app.toml"), verr.Path)
}
