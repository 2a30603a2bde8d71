package identifiers_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/appdev/pkg/app"
	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
	"github.com/Mindburn-Labs/appdev/pkg/identifiers"
)

type fakeService struct {
	mu       sync.Mutex
	regs     []identifiers.RemoteRegistration
	created  []identifiers.CreateInput
	listErr  error
	createFn func(identifiers.CreateInput) error
}

func (f *fakeService) ListRegistrations(_ context.Context, apiKey string) ([]identifiers.RemoteRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]identifiers.RemoteRegistration, len(f.regs))
	copy(out, f.regs)
	return out, nil
}

func (f *fakeService) CreateRegistration(_ context.Context, apiKey string, in identifiers.CreateInput) (*identifiers.RemoteRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFn != nil {
		if err := f.createFn(in); err != nil {
			return nil, err
		}
	}
	n := len(f.regs) + 1
	reg := identifiers.RemoteRegistration{
		ID:    fmt.Sprintf("reg-%d", n),
		UUID:  fmt.Sprintf("uuid-%d", n),
		Title: in.Title,
		Type:  in.Type,
	}
	f.regs = append(f.regs, reg)
	f.created = append(f.created, in)
	return &reg, nil
}

func instance(t *testing.T, identifier, handle string, payload extension.Payload) *extension.Instance {
	t.Helper()
	spec, ok := extension.DefaultCatalog().Lookup(identifier)
	require.True(t, ok)
	return &extension.Instance{
		LocalIdentifier: handle,
		Handle:          handle,
		DevUUID:         "local-" + handle,
		Base:            extension.BaseConfig{Name: handle + " name", Type: identifier},
		Specification:   *spec,
		Configuration:   payload,
	}
}

func testApp(t *testing.T, modules ...*extension.Instance) *app.App {
	t.Helper()
	cfg := appconfig.NewConfiguration(appconfig.KindCurrent, "", map[string]any{
		"client_id": "abc",
		"build":     map[string]any{"include_config_on_deploy": true},
	})
	a, err := app.New(app.Options{Configuration: cfg, Modules: modules, Specifications: extension.DefaultSpecifications()})
	require.NoError(t, err)
	return a
}

func TestEnsureDeploymentIDsPresence(t *testing.T) {
	ctx := context.Background()
	banner := instance(t, extension.IdentifierUIExtension, "banner", &extension.UIConfig{})
	discount := instance(t, extension.IdentifierFunction, "discount", &extension.FunctionConfig{})
	theme := instance(t, extension.IdentifierTheme, "theme", &extension.ThemeConfig{})
	hooksSpec, _ := extension.DefaultCatalog().Lookup(extension.IdentifierWebhooks)
	hooks := extension.NewConfigInstance(*hooksSpec, "/app", "/app/app.toml", map[string]any{"webhooks": map[string]any{}})

	svc := &fakeService{regs: []identifiers.RemoteRegistration{
		{ID: "r-theme", UUID: "u-theme", Title: "theme", Type: "THEME_APP_EXTENSION"},
		{ID: "r-pinned", UUID: "u-pinned", Title: "renamed", Type: "function_external"},
		{ID: "r-by-name", UUID: "u-by-name", Title: "banner name", Type: "ui_extension_external"},
	}}
	a := testApp(t, banner, discount, theme, hooks)
	r := identifiers.NewReconciler(svc)

	opts := identifiers.Options{
		App:            a,
		RemoteApp:      identifiers.RemoteApp{ID: "gid://app/1", APIKey: "key", Title: "App"},
		AppID:          "key",
		Force:          true,
		Release:        true,
		EnvIdentifiers: map[string]string{"discount": "u-pinned"},
	}

	res, err := r.EnsureDeploymentIDsPresence(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"banner": "r-by-name", "discount": "r-pinned", "theme": "r-theme"}, res.ExtensionIDs)
	assert.Equal(t, map[string]string{"banner": "u-by-name", "discount": "u-pinned", "theme": "u-theme"}, res.ExtensionUUIDs)
	assert.Empty(t, res.Created)
	assert.Empty(t, svc.created, "configuration modules are never registered")
}

func TestEnsureDeploymentIDsPresenceCreatesWhenForced(t *testing.T) {
	ctx := context.Background()
	banner := instance(t, extension.IdentifierUIExtension, "banner", &extension.UIConfig{})
	discount := instance(t, extension.IdentifierFunction, "discount", &extension.FunctionConfig{})
	svc := &fakeService{}
	r := identifiers.NewReconciler(svc)
	opts := identifiers.Options{App: testApp(t, banner, discount), AppID: "key", RemoteApp: identifiers.RemoteApp{ID: "app-1"}, Force: true, Release: true}

	first, err := r.EnsureDeploymentIDsPresence(ctx, opts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"banner", "discount"}, first.Created)
	require.Len(t, svc.created, 2)
	assert.Equal(t, "app-1", svc.created[0].AppID)
	assert.True(t, svc.created[0].Release)
	assert.Equal(t, "ui_extension_external", svc.created[0].Type)

	// Invariant: a second run over the same set creates nothing and agrees.
	second, err := r.EnsureDeploymentIDsPresence(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, svc.created, 2)
	assert.Equal(t, first.ExtensionIDs, second.ExtensionIDs)
	assert.Equal(t, first.ExtensionUUIDs, second.ExtensionUUIDs)
}

func TestEnsureDeploymentIDsPresenceWithoutForce(t *testing.T) {
	svc := &fakeService{}
	r := identifiers.NewReconciler(svc)
	a := testApp(t,
		instance(t, extension.IdentifierUIExtension, "b", &extension.UIConfig{}),
		instance(t, extension.IdentifierUIExtension, "a", &extension.UIConfig{}))

	_, err := r.EnsureDeploymentIDsPresence(context.Background(), identifiers.Options{App: a, AppID: "key"})
	require.ErrorIs(t, err, identifiers.ErrMissingRegistrations)
	var missing *identifiers.MissingRegistrationsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"a", "b"}, missing.LocalIdentifiers)
	assert.Empty(t, svc.created)
}

func TestEnsureDeploymentIDsPresenceErrors(t *testing.T) {
	ctx := context.Background()
	a := testApp(t, instance(t, extension.IdentifierUIExtension, "banner", &extension.UIConfig{}))

	_, err := identifiers.NewReconciler(&fakeService{listErr: errors.New("boom")}).
		EnsureDeploymentIDsPresence(ctx, identifiers.Options{App: a})
	assert.ErrorContains(t, err, "list registrations: boom")

	failing := &fakeService{createFn: func(identifiers.CreateInput) error { return errors.New("limit reached") }}
	_, err = identifiers.NewReconciler(failing).EnsureDeploymentIDsPresence(ctx, identifiers.Options{App: a, Force: true})
	assert.ErrorContains(t, err, "register extension banner: limit reached")

	_, err = identifiers.NewReconciler(&fakeService{}).EnsureDeploymentIDsPresence(ctx, identifiers.Options{})
	assert.Error(t, err)
}
