// Package extension models the deployable units of an app: the registered
// extension specifications and the instances loaded from disk.
package extension

import "sort"

// Experience separates extensions that are authored as their own directory
// from modules that live inside the app configuration file.
type Experience string

const (
	ExperienceExtension     Experience = "extension"
	ExperienceConfiguration Experience = "configuration"
)

// Kind is the capability set an instance belongs to.
type Kind string

const (
	KindFunction Kind = "function"
	KindTheme    Kind = "theme"
	KindUI       Kind = "ui"
	KindConfig   Kind = "config"
)

// Well-known specification identifiers.
const (
	IdentifierUIExtension               = "ui_extension"
	IdentifierFunction                  = "function"
	IdentifierTheme                     = "theme"
	IdentifierEditorExtensionCollection = "editor_extension_collection"
	IdentifierWebhooks                  = "webhooks"
	IdentifierPrivacyComplianceWebhooks = "privacy_compliance_webhooks"
	IdentifierAppAccess                 = "app_access"
	IdentifierAppHome                   = "app_home"
)

// Specification describes one extension type known to the CLI.
type Specification struct {
	Identifier            string     `yaml:"identifier" json:"identifier"`
	ExternalIdentifier    string     `yaml:"external_identifier" json:"external_identifier"`
	AdditionalIdentifiers []string   `yaml:"additional_identifiers,omitempty" json:"additional_identifiers,omitempty"`
	ExternalName          string     `yaml:"external_name" json:"external_name"`
	Experience            Experience `yaml:"experience" json:"experience"`
	Kind                  Kind       `yaml:"kind" json:"kind"`
	Draftable             bool       `yaml:"draftable" json:"draftable"`
	RegistrationLimit     int        `yaml:"registration_limit" json:"registration_limit"`

	// SchemaFragment holds the JSON Schema properties this specification
	// contributes to the app configuration. Only read for configuration
	// experiences.
	SchemaFragment map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// Matches reports whether typ names this specification by any of its identifiers.
func (s *Specification) Matches(typ string) bool {
	if typ == "" {
		return false
	}
	if typ == s.Identifier || typ == s.ExternalIdentifier {
		return true
	}
	for _, id := range s.AdditionalIdentifiers {
		if id == typ {
			return true
		}
	}
	return false
}

// IsConfiguration reports whether the specification is an app configuration module.
func (s *Specification) IsConfiguration() bool {
	return s.Experience == ExperienceConfiguration
}

// SectionKeys returns the top-level configuration keys the specification owns.
func (s *Specification) SectionKeys() []string {
	keys := make([]string, 0, len(s.SchemaFragment))
	for k := range s.SchemaFragment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
