package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// Handles of the configuration modules whose subscriptions are withheld
// unless declarative webhooks are enabled.
const (
	webhooksHandle           = "webhooks"
	complianceWebhooksHandle = "privacy-compliance-webhooks"
)

// AllExtensions returns the instances that take part in deploy and dev.
// Configuration modules are left out unless build.include_config_on_deploy is
// set. The stored instances are never modified.
func (a *App) AllExtensions() []*extension.Instance {
	modules := a.modules
	if !a.HasFlag(FlagDeclarativeWebhooks) {
		modules = FilterDeclarativeWebhooks(modules)
	}
	if a.IncludeConfigOnDeploy() {
		return modules
	}
	out := make([]*extension.Instance, 0, len(modules))
	for _, m := range modules {
		if !m.IsAppConfigExtension() {
			out = append(out, m)
		}
	}
	return out
}

// FilterDeclarativeWebhooks returns modules with the webhook modules replaced
// by copies whose webhooks.subscriptions is empty.
func FilterDeclarativeWebhooks(modules []*extension.Instance) []*extension.Instance {
	out := make([]*extension.Instance, len(modules))
	for i, m := range modules {
		if m.Handle != webhooksHandle && m.Handle != complianceWebhooksHandle {
			out[i] = m
			continue
		}
		c := m.Clone()
		if values := c.SectionValues(); values != nil {
			section, ok := values["webhooks"].(map[string]any)
			if !ok {
				section = map[string]any{}
				values["webhooks"] = section
			}
			section["subscriptions"] = []any{}
		}
		out[i] = c
	}
	return out
}

// DraftableExtensions returns the stored instances that support live drafts.
func (a *App) DraftableExtensions() []*extension.Instance {
	var out []*extension.Instance
	for _, m := range a.modules {
		if m.IsDraftable() {
			out = append(out, m)
		}
	}
	return out
}

// HasExtensions reports whether AllExtensions is non-empty.
func (a *App) HasExtensions() bool {
	return len(a.AllExtensions()) > 0
}

// ExtensionsForType returns the extensions whose declared type matches
// either identifier of spec.
func (a *App) ExtensionsForType(spec SpecRef) []*extension.Instance {
	var out []*extension.Instance
	for _, e := range a.AllExtensions() {
		if e.Type() == spec.Identifier || e.Type() == spec.ExternalIdentifier {
			out = append(out, e)
		}
	}
	return out
}

// ExtensionByHandle finds an extension in AllExtensions.
func (a *App) ExtensionByHandle(handle string) (*extension.Instance, bool) {
	return findByHandle(a.AllExtensions(), handle)
}

// UpdateExtensionUUIDs sets the dev UUID of every extension in AllExtensions
// that uuids maps by local identifier, even to an empty value. The stored
// instances are updated.
func (a *App) UpdateExtensionUUIDs(uuids map[string]string) {
	visible := make(map[string]bool)
	for _, e := range a.AllExtensions() {
		visible[e.LocalIdentifier] = true
	}
	for _, m := range a.modules {
		if !visible[m.LocalIdentifier] {
			continue
		}
		if id, ok := uuids[m.LocalIdentifier]; ok {
			m.DevUUID = id
		}
	}
}

// PreDeployValidation runs the cross-extension checks, then every
// extension's own validation concurrently.
func (a *App) PreDeployValidation(ctx context.Context) error {
	all := a.AllExtensions()

	var functions, collections []*extension.Instance
	for _, e := range all {
		switch p := e.Configuration.(type) {
		case *extension.FunctionConfig:
			if p.UI != nil && p.UI.Handle != "" {
				functions = append(functions, e)
			}
		case *extension.CollectionConfig:
			collections = append(collections, e)
		}
	}

	if len(functions) > 0 {
		if findings := ValidateFunctionUIHandles(functions, all); findings != nil {
			return &ValidationError{Title: "Invalid function configuration", Findings: findings}
		}
	}
	if len(collections) > 0 {
		if findings := ValidateCollectionHandles(collections, all); findings != nil {
			return &ValidationError{Title: "Invalid extension collection configuration", Findings: findings}
		}
	}

	var g errgroup.Group
	for _, e := range all {
		e := e
		g.Go(func() error { return e.Validate(ctx) })
	}
	return g.Wait()
}
