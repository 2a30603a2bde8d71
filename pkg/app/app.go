// Package app holds the App aggregate: the classified configuration, the
// extension instances and webs loaded from an app directory, and the views
// and validations derived from them.
package app

import (
	"fmt"
	"slices"

	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// Flag is a remote feature flag that changes local behaviour.
type Flag string

const (
	// FlagDeclarativeWebhooks lets webhook subscriptions in the app
	// configuration be deployed as-is.
	FlagDeclarativeWebhooks Flag = "declarative_webhooks"
)

// DefaultIDEnvironmentVariableName is the variable that pins the app id.
const DefaultIDEnvironmentVariableName = "APPDEV_API_KEY"

// SpecRef names a specification by either of its identifiers.
type SpecRef struct {
	Identifier         string
	ExternalIdentifier string
}

// App is the aggregate root for one local app.
type App struct {
	Name                      string
	Directory                 string
	IDEnvironmentVariableName string
	Configuration             *appconfig.Configuration
	ConfigSchema              *appconfig.Schema
	Webs                      []Web
	Specifications            []extension.Specification
	RemoteFlags               []Flag
	DotEnv                    *DotEnvFile

	modules []*extension.Instance
}

// Options are the inputs of New.
type Options struct {
	Name                      string
	Directory                 string
	IDEnvironmentVariableName string
	Configuration             *appconfig.Configuration
	ConfigSchema              *appconfig.Schema
	Webs                      []Web
	Modules                   []*extension.Instance
	Specifications            []extension.Specification
	RemoteFlags               []Flag
	DotEnv                    *DotEnvFile
}

// New builds an App. A nil schema is resolved from the specifications.
func New(opts Options) (*App, error) {
	schema := opts.ConfigSchema
	if schema == nil {
		s, err := appconfig.ResolveSchema(opts.Specifications, appconfig.ResolveOptions{})
		if err != nil {
			return nil, fmt.Errorf("resolve app configuration schema: %w", err)
		}
		schema = s
	}
	idVar := opts.IDEnvironmentVariableName
	if idVar == "" {
		idVar = DefaultIDEnvironmentVariableName
	}
	cfg := opts.Configuration
	if cfg == nil {
		cfg = appconfig.NewConfiguration(appconfig.KindLegacy, "", map[string]any{"scopes": ""})
	}
	return &App{
		Name:                      opts.Name,
		Directory:                 opts.Directory,
		IDEnvironmentVariableName: idVar,
		Configuration:             cfg,
		ConfigSchema:              schema,
		Webs:                      opts.Webs,
		Specifications:            opts.Specifications,
		RemoteFlags:               opts.RemoteFlags,
		DotEnv:                    opts.DotEnv,
		modules:                   slices.Clone(opts.Modules),
	}, nil
}

// EmptyApp returns an app with no extensions. With a client id the
// configuration is a current document, otherwise a legacy one.
func EmptyApp(specs []extension.Specification, flags []Flag, clientID string) (*App, error) {
	var cfg *appconfig.Configuration
	if clientID != "" {
		cfg = appconfig.NewConfiguration(appconfig.KindCurrent, "", map[string]any{
			"client_id":     clientID,
			"access_scopes": map[string]any{"scopes": ""},
		})
	} else {
		cfg = appconfig.NewConfiguration(appconfig.KindLegacy, "", map[string]any{"scopes": ""})
	}
	return New(Options{
		Configuration:  cfg,
		Specifications: specs,
		RemoteFlags:    flags,
	})
}

// Modules returns every stored instance, configuration modules included.
func (a *App) Modules() []*extension.Instance {
	return slices.Clone(a.modules)
}

// HasFlag reports whether the remote enabled f for this app.
func (a *App) HasFlag(f Flag) bool {
	return slices.Contains(a.RemoteFlags, f)
}

// IncludeConfigOnDeploy reports whether configuration modules are deployed
// alongside extensions.
func (a *App) IncludeConfigOnDeploy() bool {
	return appconfig.IncludeConfigOnDeploy(a.Configuration)
}

// AppIsLaunchable reports whether the app has a frontend or backend web.
func AppIsLaunchable(a *App) bool {
	if a == nil {
		return false
	}
	for _, w := range a.Webs {
		if w.HasRole(WebFrontend) || w.HasRole(WebBackend) {
			return true
		}
	}
	return false
}
