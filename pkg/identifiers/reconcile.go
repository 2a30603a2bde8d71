// Package identifiers reconciles local extensions with the registrations the
// remote app already has, creating the missing ones when allowed.
package identifiers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/appdev/pkg/app"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// ErrMissingRegistrations is returned when local extensions have no remote
// registration and creation was not forced.
var ErrMissingRegistrations = errors.New("extensions are not registered on the remote app")

// RemoteRegistration is an extension registration on the remote app.
type RemoteRegistration struct {
	ID    string
	UUID  string
	Title string
	Type  string
}

// CreateInput describes a registration to create.
type CreateInput struct {
	AppID   string
	Title   string
	Type    string
	Handle  string
	Release bool
}

// RegistrationService lists and creates remote registrations.
type RegistrationService interface {
	ListRegistrations(ctx context.Context, apiKey string) ([]RemoteRegistration, error)
	CreateRegistration(ctx context.Context, apiKey string, in CreateInput) (*RemoteRegistration, error)
}

// RemoteApp is the remote side of the reconciliation.
type RemoteApp struct {
	ID             string
	APIKey         string
	Title          string
	OrganizationID string
}

// Options are the inputs of EnsureDeploymentIDsPresence.
type Options struct {
	App            *app.App
	RemoteApp      RemoteApp
	AppID          string
	AppName        string
	Force          bool
	Release        bool
	EnvIdentifiers map[string]string
}

// Result maps local identifiers to remote registration ids and UUIDs.
type Result struct {
	ExtensionIDs   map[string]string
	ExtensionUUIDs map[string]string
	// Created lists the local identifiers registered during this call.
	Created []string
}

// MissingRegistrationsError names the extensions that have no registration.
type MissingRegistrationsError struct {
	LocalIdentifiers []string
}

func (e *MissingRegistrationsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRegistrations, strings.Join(e.LocalIdentifiers, ", "))
}

func (e *MissingRegistrationsError) Unwrap() error { return ErrMissingRegistrations }

// Reconciler matches local extensions to remote registrations.
type Reconciler struct {
	service RegistrationService
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler backed by service.
func NewReconciler(service RegistrationService) *Reconciler {
	return &Reconciler{
		service: service,
		logger:  slog.Default().With("component", "identifiers"),
	}
}

// WithLogger sets the logger used for reconciliation progress.
func (r *Reconciler) WithLogger(l *slog.Logger) *Reconciler {
	r.logger = l
	return r
}

// EnsureDeploymentIDsPresence makes sure every local extension that is
// registered individually has a remote registration. Running it twice over
// the same extensions creates nothing the second time.
func (r *Reconciler) EnsureDeploymentIDsPresence(ctx context.Context, opts Options) (*Result, error) {
	if opts.App == nil {
		return nil, errors.New("ensure deployment ids: no app")
	}
	apiKey := opts.RemoteApp.APIKey
	if apiKey == "" {
		apiKey = opts.AppID
	}

	remote, err := r.service.ListRegistrations(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}

	res := &Result{
		ExtensionIDs:   make(map[string]string),
		ExtensionUUIDs: make(map[string]string),
	}
	claimed := make(map[string]bool)
	var missing []*extension.Instance

	locals := registrable(opts.App.AllExtensions())

	// Pinned UUIDs are matched first so heuristic matches cannot steal them.
	var unmatched []*extension.Instance
	for _, ext := range locals {
		uuid := opts.EnvIdentifiers[ext.LocalIdentifier]
		if uuid == "" {
			unmatched = append(unmatched, ext)
			continue
		}
		reg := findRegistration(remote, claimed, func(reg RemoteRegistration) bool { return reg.UUID == uuid })
		if reg == nil {
			r.logger.Warn("pinned extension uuid not found on remote app", "extension", ext.LocalIdentifier, "uuid", uuid)
			unmatched = append(unmatched, ext)
			continue
		}
		claim(res, claimed, ext, reg)
	}

	for _, ext := range unmatched {
		reg := findRegistration(remote, claimed, func(reg RemoteRegistration) bool {
			return matchesType(ext, reg.Type) && reg.Title == ext.Handle
		})
		if reg == nil {
			reg = findRegistration(remote, claimed, func(reg RemoteRegistration) bool {
				return matchesType(ext, reg.Type) && reg.Title == ext.Name()
			})
		}
		if reg == nil {
			missing = append(missing, ext)
			continue
		}
		claim(res, claimed, ext, reg)
	}

	if len(missing) == 0 {
		return res, nil
	}
	if !opts.Force {
		ids := make([]string, 0, len(missing))
		for _, ext := range missing {
			ids = append(ids, ext.LocalIdentifier)
		}
		sort.Strings(ids)
		return nil, &MissingRegistrationsError{LocalIdentifiers: ids}
	}

	appID := opts.RemoteApp.ID
	if appID == "" {
		appID = opts.AppID
	}
	for _, ext := range missing {
		reg, err := r.service.CreateRegistration(ctx, apiKey, CreateInput{
			AppID:   appID,
			Title:   ext.Handle,
			Type:    ext.Specification.ExternalIdentifier,
			Handle:  ext.Handle,
			Release: opts.Release,
		})
		if err != nil {
			return nil, fmt.Errorf("register extension %s: %w", ext.LocalIdentifier, err)
		}
		r.logger.Info("extension registered", "extension", ext.LocalIdentifier, "id", reg.ID, "uuid", reg.UUID)
		claim(res, claimed, ext, reg)
		res.Created = append(res.Created, ext.LocalIdentifier)
	}
	return res, nil
}

// registrable drops configuration modules, which the remote tracks as part of
// the app version rather than as individual registrations.
func registrable(exts []*extension.Instance) []*extension.Instance {
	out := make([]*extension.Instance, 0, len(exts))
	for _, e := range exts {
		if !e.IsAppConfigExtension() {
			out = append(out, e)
		}
	}
	return out
}

func matchesType(ext *extension.Instance, remoteType string) bool {
	if strings.EqualFold(remoteType, ext.Specification.ExternalIdentifier) || strings.EqualFold(remoteType, ext.Specification.Identifier) {
		return true
	}
	return ext.Specification.Matches(strings.ToLower(remoteType))
}

func findRegistration(remote []RemoteRegistration, claimed map[string]bool, match func(RemoteRegistration) bool) *RemoteRegistration {
	for i := range remote {
		if claimed[remote[i].ID] {
			continue
		}
		if match(remote[i]) {
			return &remote[i]
		}
	}
	return nil
}

func claim(res *Result, claimed map[string]bool, ext *extension.Instance, reg *RemoteRegistration) {
	claimed[reg.ID] = true
	res.ExtensionIDs[ext.LocalIdentifier] = reg.ID
	res.ExtensionUUIDs[ext.LocalIdentifier] = reg.UUID
}
