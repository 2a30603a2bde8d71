package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// ValidationError reports referential problems between extensions.
type ValidationError struct {
	Title    string
	Findings []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Findings, "\n")
}

// allowedInCollection lists the specification identifiers a collection may include.
var allowedInCollection = []string{extension.IdentifierUIExtension}

// ValidateFunctionUIHandles checks that every function's ui.handle names a UI
// extension in all. It returns nil when every reference resolves.
func ValidateFunctionUIHandles(functions, all []*extension.Instance) []string {
	var findings []string
	for _, fn := range functions {
		cfg, ok := fn.Configuration.(*extension.FunctionConfig)
		if !ok || cfg.UI == nil || cfg.UI.Handle == "" {
			continue
		}
		handle := cfg.UI.Handle
		match, found := findByHandle(all, handle)
		switch {
		case !found:
			findings = append(findings, fmt.Sprintf("[%s] - Local app must contain a ui_extension with handle '%s'", fn.Name(), handle))
		case match.Specification.Identifier != extension.IdentifierUIExtension:
			findings = append(findings, fmt.Sprintf("[%s] - Local app must contain one extension of type 'ui_extension' and handle '%s'", fn.Name(), handle))
		}
	}
	return findings
}

// ValidateCollectionHandles checks the members of every editor extension
// collection. It returns nil when every collection is valid.
func ValidateCollectionHandles(collections, all []*extension.Instance) []string {
	var findings []string
	for _, col := range collections {
		cfg, ok := col.Configuration.(*extension.CollectionConfig)
		if !ok {
			continue
		}
		prefix := fmt.Sprintf("[%s] extension collection", col.Handle)
		for _, member := range cfg.Members() {
			match, found := findByHandle(all, member.Handle)
			if !found {
				findings = append(findings, fmt.Sprintf("%s - Local app must contain an extension with handle '%s'", prefix, member.Handle))
				continue
			}
			identifier := match.Specification.Identifier
			if !slices.Contains(allowedInCollection, identifier) {
				findings = append(findings, fmt.Sprintf("%s - The collection can't contain an extension of type '%s'", prefix, identifier))
				continue
			}
			ui, ok := match.Configuration.(*extension.UIConfig)
			if !ok {
				continue
			}
			for _, point := range ui.ExtensionPoints {
				if strings.HasPrefix(point.Target, "admin.") {
					findings = append(findings, fmt.Sprintf("%s - The collection can't contain an extension of type '%s' with target %s", prefix, identifier, point.Target))
				}
			}
		}
	}
	return findings
}

func findByHandle(all []*extension.Instance, handle string) (*extension.Instance, bool) {
	for _, e := range all {
		if e.Handle == handle {
			return e, true
		}
	}
	return nil, false
}
