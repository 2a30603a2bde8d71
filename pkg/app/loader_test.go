package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/appdev/pkg/app"
	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func scaffold(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "app.toml"), `
client_id = "client-123"

[access_scopes]
scopes = "read_products,write_discounts"

[webhooks]
api_version = "2024-01"

[[webhooks.subscriptions]]
topics = ["orders/create"]
uri = "/webhooks"

[build]
include_config_on_deploy = true
`)
	write(t, filepath.Join(dir, "extensions", "banner", "extension.toml"), `
name = "Banner"
type = "ui_extension"

[[extension_points]]
target = "purchase.checkout.block.render"
module = "./src/index.js"
`)
	write(t, filepath.Join(dir, "extensions", "discount", "extension.toml"), `
name = "Discount"
type = "product_discounts"

[ui]
handle = "banner"
`)
	write(t, filepath.Join(dir, "web", "web.toml"), `
roles = ["backend", "frontend"]
auth_callback_path = ["auth/callback", "/auth/other"]
webhooks_path = "webhooks"
port = 3000

[commands]
dev = "npm run dev"
`)
	write(t, filepath.Join(dir, ".env"), "APPDEV_BANNER_ID=uuid-from-dotenv\n")
	return dir
}

func TestLoad(t *testing.T) {
	dir := scaffold(t)

	a, err := app.Load(app.LoadOptions{Directory: dir})
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(dir), a.Name)
	assert.True(t, a.Configuration.IsCurrent())
	assert.Equal(t, filepath.Join(dir, "app.toml"), a.Configuration.Path)
	assert.Equal(t, []string{"read_products", "write_discounts"}, appconfig.ScopesArray(a.Configuration))

	assert.ElementsMatch(t,
		[]string{"banner", "discount", "app-access", "webhooks", "privacy-compliance-webhooks"},
		handles(a.Modules()))
	assert.ElementsMatch(t, []string{"banner", "discount"}, handles(a.DraftableExtensions()))

	require.Len(t, a.Webs, 1)
	web := a.Webs[0].Configuration
	assert.Equal(t, []app.WebType{app.WebBackend, app.WebFrontend}, web.Roles)
	assert.Equal(t, []string{"/auth/callback", "/auth/other"}, web.AuthCallbackPaths)
	assert.Equal(t, "/webhooks", web.WebhooksPath)
	assert.Equal(t, 3000, web.Port)
	assert.True(t, app.AppIsLaunchable(a))

	require.NotNil(t, a.DotEnv)
	assert.Equal(t, "uuid-from-dotenv", a.DotEnv.Variables["APPDEV_BANNER_ID"])
}

func TestLoadRejectsDuplicateHandles(t *testing.T) {
	dir := scaffold(t)
	write(t, filepath.Join(dir, "extensions", "banner-copy", "extension.toml"), `
name = "Banner"
type = "ui_extension"
`)
	_, err := app.Load(app.LoadOptions{Directory: dir})
	assert.ErrorIs(t, err, app.ErrDuplicateHandle)
}

func TestLoadLegacyConfiguration(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "app.toml"), "name = \"legacy-app\"\nscopes = \"read_orders\"\nextension_directories = [\"custom/*\"]\n")
	write(t, filepath.Join(dir, "custom", "theme", "extension.toml"), "name = \"Theme\"\ntype = \"theme\"\n")
	write(t, filepath.Join(dir, "extensions", "ignored", "extension.toml"), "name = \"Ignored\"\ntype = \"theme\"\n")

	a, err := app.Load(app.LoadOptions{Directory: dir})
	require.NoError(t, err)
	assert.Equal(t, "legacy-app", a.Name)
	assert.True(t, a.Configuration.IsLegacy())
	assert.Equal(t, []string{"theme"}, handles(a.AllExtensions()))
	assert.False(t, app.AppIsLaunchable(a))
	assert.Nil(t, a.DotEnv)
}

func TestLoadNamedConfiguration(t *testing.T) {
	dir := scaffold(t)
	write(t, filepath.Join(dir, "app.staging.toml"), "client_id = \"staging\"\n")

	a, err := app.Load(app.LoadOptions{Directory: dir, ConfigName: "staging"})
	require.NoError(t, err)
	assert.Equal(t, "staging", a.Configuration.ClientID())
	assert.ElementsMatch(t, []string{"banner", "discount"}, handles(a.Modules()))
}

func TestDecodeWebConfiguration(t *testing.T) {
	cfg, err := app.DecodeWebConfiguration([]byte("type = \"backend\"\nauth_callback_path = \"cb\"\n[commands]\ndev = \"go run .\"\n"))
	require.NoError(t, err)
	assert.Equal(t, []app.WebType{app.WebBackend}, cfg.Roles)
	assert.Equal(t, []string{"/cb"}, cfg.AuthCallbackPaths)

	cfg, err = app.DecodeWebConfiguration([]byte("[commands]\ndev = \"x\"\n"))
	require.NoError(t, err)
	assert.Equal(t, []app.WebType{app.WebFrontend}, cfg.Roles, "type defaults to frontend")

	_, err = app.DecodeWebConfiguration([]byte("roles = [\"sidecar\"]\n[commands]\ndev = \"x\"\n"))
	assert.ErrorContains(t, err, "unknown role")

	_, err = app.DecodeWebConfiguration([]byte("port = 70000\n[commands]\ndev = \"x\"\n"))
	assert.ErrorContains(t, err, "out of range")

	_, err = app.DecodeWebConfiguration([]byte("name = \"no commands\"\n"))
	assert.ErrorContains(t, err, "commands.dev")
}

func TestGetAppIdentifiers(t *testing.T) {
	dir := scaffold(t)
	a, err := app.Load(app.LoadOptions{Directory: dir})
	require.NoError(t, err)

	env := map[string]string{
		"APPDEV_API_KEY":     "api-key",
		"APPDEV_DISCOUNT_ID": "uuid-from-env",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	ids := app.GetAppIdentifiers(a, lookup)
	assert.Equal(t, "api-key", ids.App)
	assert.Equal(t, map[string]string{
		"banner":   "uuid-from-dotenv",
		"discount": "uuid-from-env",
	}, ids.Extensions)

	env["APPDEV_BANNER_ID"] = "override"
	assert.Equal(t, "override", app.GetAppIdentifiers(a, lookup).Extensions["banner"])
}

func TestWriteAppIdentifiers(t *testing.T) {
	dir := scaffold(t)
	a, err := app.Load(app.LoadOptions{Directory: dir})
	require.NoError(t, err)

	require.NoError(t, app.WriteAppIdentifiers(a, map[string]string{"discount": "uuid-2"}))

	reread, err := app.ReadDotEnv(dir)
	require.NoError(t, err)
	assert.Equal(t, "uuid-from-dotenv", reread.Variables["APPDEV_BANNER_ID"])
	assert.Equal(t, "uuid-2", reread.Variables["APPDEV_DISCOUNT_ID"])
}
