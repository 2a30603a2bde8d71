// Package devsession runs the draftable-extension part of a dev session: it
// opens one remote dev session, then builds every draftable extension, pushes
// its first draft and keeps it in sync while the developer edits.
package devsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/appdev/pkg/app"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
	"github.com/Mindburn-Labs/appdev/pkg/identifiers"
	"github.com/Mindburn-Labs/appdev/pkg/observability"
	"github.com/Mindburn-Labs/appdev/pkg/remote"
)

// ProcessType identifies the draftable-extension dev process.
const ProcessType = "draftable-extension"

// ProcessPrefix labels the process output.
const ProcessPrefix = "extensions"

// SessionTitle is the title of every dev session this package opens.
const SessionTitle = "dev-app"

// ErrRegistrationNotFound is returned when an extension has no remote
// registration id after reconciliation.
var ErrRegistrationNotFound = errors.New("extension not found on remote app")

// SessionCreator opens a remote dev session.
type SessionCreator interface {
	CreateDevSession(ctx context.Context, in remote.DevSessionCreateInput) (*remote.DevSessionApp, error)
}

// DraftPusher pushes an extension draft.
type DraftPusher interface {
	UpdateExtensionDraft(ctx context.Context, in remote.DraftInput) error
}

// Builder builds one extension.
type Builder interface {
	Build(ctx context.Context, ext *extension.Instance) error
}

// Toolchain installs the function toolchain before any build runs.
type Toolchain interface {
	Ensure(ctx context.Context) error
}

// Notifier is told about every build outcome, e.g. to live-reload previews.
type Notifier interface {
	NotifyUpdate(ext *extension.Instance, buildErr error)
}

// Watcher is a running watch loop. Done is closed once it has stopped.
type Watcher interface {
	Done() <-chan struct{}
}

// WatchOptions describe the extension a watcher keeps in sync.
type WatchOptions struct {
	Extension      *extension.Instance
	App            *app.App
	URL            string
	Token          string
	APIKey         string
	RegistrationID string
}

// WatcherStarter starts a watcher that runs until ctx is cancelled.
type WatcherStarter interface {
	StartWatcher(ctx context.Context, opts WatchOptions) (Watcher, error)
}

// Dependencies are the collaborators of a dev process. Telemetry, Logger
// and Notifier are optional.
type Dependencies struct {
	Sessions  SessionCreator
	Drafts    DraftPusher
	Builder   Builder
	Watchers  WatcherStarter
	Toolchain Toolchain
	Notifier  Notifier
	Telemetry *observability.Provider
	Logger    *slog.Logger
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Sessions == nil {
		missing = append(missing, "session creator")
	}
	if d.Drafts == nil {
		missing = append(missing, "draft pusher")
	}
	if d.Builder == nil {
		missing = append(missing, "builder")
	}
	if d.Watchers == nil {
		missing = append(missing, "watcher starter")
	}
	if d.Toolchain == nil {
		missing = append(missing, "toolchain")
	}
	if len(missing) > 0 {
		return fmt.Errorf("devsession: missing dependencies: %v", missing)
	}
	return nil
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Telemetry == nil {
		d.Telemetry = observability.Disabled()
	}
	if d.Logger == nil {
		d.Logger = slog.Default().With("component", "devsession")
	}
	return d
}

// SetupOptions are the inputs of SetupDraftableExtensionsProcess.
type SetupOptions struct {
	App       *app.App
	APIKey    string
	Token     string
	RemoteApp identifiers.RemoteApp
	ProxyURL  string

	Registrations identifiers.RegistrationService
	// LookupEnv resolves pinned identifiers; nil means os.LookupEnv.
	LookupEnv app.LookupEnvFunc
	Policy    FailurePolicy
	Deps      Dependencies
}

// ProcessOptions is everything a Process needs to run.
type ProcessOptions struct {
	App                *app.App
	Extensions         []*extension.Instance
	Token              string
	APIKey             string
	RemoteExtensionIDs map[string]string
	ProxyURL           string
	Policy             FailurePolicy
	Deps               Dependencies
}

// Process is a configured draftable-extension dev process.
type Process struct {
	Type    string
	Prefix  string
	Options ProcessOptions
}

// SetupDraftableExtensionsProcess prepares the dev process for the app's
// draftable extensions. It returns nil without contacting the remote when
// there are none. Otherwise every extension is reconciled with the remote
// app, creating missing registrations, and the remote UUIDs replace the
// random dev UUIDs so live-reload messages carry the real ones.
func SetupDraftableExtensionsProcess(ctx context.Context, opts SetupOptions) (*Process, error) {
	if opts.App == nil {
		return nil, errors.New("devsession: no app")
	}
	if len(draftable(opts.App.AllExtensions())) == 0 {
		return nil, nil
	}
	if opts.Registrations == nil {
		return nil, errors.New("devsession: no registration service")
	}
	if err := opts.Deps.validate(); err != nil {
		return nil, err
	}
	deps := opts.Deps.withDefaults()

	envIDs := app.GetAppIdentifiers(opts.App, opts.LookupEnv)
	res, err := identifiers.NewReconciler(opts.Registrations).
		WithLogger(deps.Logger).
		EnsureDeploymentIDsPresence(ctx, identifiers.Options{
			App:            opts.App,
			RemoteApp:      opts.RemoteApp,
			AppID:          opts.APIKey,
			AppName:        opts.RemoteApp.Title,
			Force:          true,
			Release:        true,
			EnvIdentifiers: envIDs.Extensions,
		})
	if err != nil {
		return nil, err
	}
	opts.App.UpdateExtensionUUIDs(res.ExtensionUUIDs)

	exts := draftable(opts.App.AllExtensions())
	deps.Logger.Debug("draftable extensions ready", "count", len(exts), "created", len(res.Created))

	return &Process{
		Type:   ProcessType,
		Prefix: ProcessPrefix,
		Options: ProcessOptions{
			App:                opts.App,
			Extensions:         exts,
			Token:              opts.Token,
			APIKey:             opts.APIKey,
			RemoteExtensionIDs: res.ExtensionIDs,
			ProxyURL:           opts.ProxyURL,
			Policy:             opts.Policy,
			Deps:               deps,
		},
	}, nil
}

func draftable(all []*extension.Instance) []*extension.Instance {
	var out []*extension.Instance
	for _, e := range all {
		if e.IsDraftable() {
			out = append(out, e)
		}
	}
	return out
}
