package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of specifications registered for a CLI run.
type Catalog struct {
	specs []Specification
}

// catalogFile is the on-disk shape of a specification catalog.
type catalogFile struct {
	Specifications []Specification `yaml:"specifications"`
}

// NewCatalog creates a catalog from the given specifications, preserving order.
func NewCatalog(specs ...Specification) *Catalog {
	c := &Catalog{specs: make([]Specification, 0, len(specs))}
	c.specs = append(c.specs, specs...)
	return c
}

// DefaultCatalog returns the built-in specifications.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultSpecifications()...)
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %q: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %q: %w", path, err)
	}

	for i := range file.Specifications {
		spec := &file.Specifications[i]
		if spec.Identifier == "" {
			return nil, fmt.Errorf("parse catalog %q: specification %d has no identifier", path, i)
		}
		if spec.ExternalIdentifier == "" {
			spec.ExternalIdentifier = spec.Identifier
		}
		if spec.Experience == "" {
			spec.Experience = ExperienceExtension
		}
		spec.SchemaFragment = normalizeYAML(spec.SchemaFragment)
	}

	return NewCatalog(file.Specifications...), nil
}

// LoadCatalogDir loads every *.yaml file in dir, in lexical order, into one
// catalog. Later files override earlier specifications with the same identifier.
func LoadCatalogDir(dir string) (*Catalog, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	merged := NewCatalog()
	for _, path := range matches {
		c, err := LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		for _, spec := range c.specs {
			merged.Register(spec)
		}
	}
	return merged, nil
}

// Register adds or replaces a specification.
func (c *Catalog) Register(spec Specification) {
	for i := range c.specs {
		if c.specs[i].Identifier == spec.Identifier {
			c.specs[i] = spec
			return
		}
	}
	c.specs = append(c.specs, spec)
}

// Specifications returns a copy of the registered specifications.
func (c *Catalog) Specifications() []Specification {
	out := make([]Specification, len(c.specs))
	copy(out, c.specs)
	return out
}

// Lookup finds the specification for an extension type, matching any identifier.
func (c *Catalog) Lookup(typ string) (*Specification, bool) {
	for i := range c.specs {
		if c.specs[i].Matches(typ) {
			spec := c.specs[i]
			return &spec, true
		}
	}
	return nil, false
}

// ConfigurationSpecifications returns the configuration-experience subset.
func (c *Catalog) ConfigurationSpecifications() []Specification {
	var out []Specification
	for _, s := range c.specs {
		if s.IsConfiguration() {
			out = append(out, s)
		}
	}
	return out
}

// HandleForIdentifier derives the handle a configuration module is known by.
func HandleForIdentifier(identifier string) string {
	return strings.ReplaceAll(identifier, "_", "-")
}

// normalizeYAML converts yaml.v3 generic maps into map[string]any so the
// fragments can be marshalled as JSON.
func normalizeYAML(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeYAML(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAMLValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalizeYAMLValue(val)
		}
		return s
	default:
		return v
	}
}

func webhooksFragment() map[string]any {
	return map[string]any{
		"webhooks": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"api_version": map[string]any{"type": "string"},
				"subscriptions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"topics":               map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"compliance_topics":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"uri":                  map[string]any{"type": "string"},
							"include_fields":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"filter":               map[string]any{"type": "string"},
							"sub_topic":            map[string]any{"type": "string"},
							"payload_query_filter": map[string]any{"type": "string"},
						},
						"required": []any{"uri"},
					},
				},
			},
		},
	}
}

// DefaultSpecifications returns the specifications compiled into the binary.
func DefaultSpecifications() []Specification {
	return []Specification{
		{
			Identifier:         IdentifierAppAccess,
			ExternalIdentifier: "app_access_external",
			ExternalName:       "App access",
			Experience:         ExperienceConfiguration,
			Kind:               KindConfig,
			RegistrationLimit:  1,
			SchemaFragment: map[string]any{
				"access_scopes": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"scopes":                  map[string]any{"type": "string"},
						"use_legacy_install_flow": map[string]any{"type": "boolean"},
					},
				},
				"auth": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"redirect_urls": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
		},
		{
			Identifier:         IdentifierAppHome,
			ExternalIdentifier: "app_home_external",
			ExternalName:       "App home",
			Experience:         ExperienceConfiguration,
			Kind:               KindConfig,
			RegistrationLimit:  1,
			SchemaFragment: map[string]any{
				"name":            map[string]any{"type": "string"},
				"application_url": map[string]any{"type": "string"},
				"embedded":        map[string]any{"type": "boolean"},
			},
		},
		{
			Identifier:         IdentifierWebhooks,
			ExternalIdentifier: "webhooks_external",
			ExternalName:       "Webhooks",
			Experience:         ExperienceConfiguration,
			Kind:               KindConfig,
			RegistrationLimit:  1,
			SchemaFragment:     webhooksFragment(),
		},
		{
			Identifier:         IdentifierPrivacyComplianceWebhooks,
			ExternalIdentifier: "privacy_compliance_webhooks_external",
			ExternalName:       "Privacy compliance webhooks",
			Experience:         ExperienceConfiguration,
			Kind:               KindConfig,
			RegistrationLimit:  1,
			SchemaFragment:     webhooksFragment(),
		},
		{
			Identifier:         IdentifierUIExtension,
			ExternalIdentifier: "ui_extension_external",
			ExternalName:       "UI Extension",
			Experience:         ExperienceExtension,
			Kind:               KindUI,
			Draftable:          true,
			RegistrationLimit:  50,
		},
		{
			Identifier:         IdentifierEditorExtensionCollection,
			ExternalIdentifier: "editor_extension_collection_external",
			ExternalName:       "Editor extension collection",
			Experience:         ExperienceExtension,
			Kind:               KindUI,
			RegistrationLimit:  100,
		},
		{
			Identifier:            IdentifierFunction,
			ExternalIdentifier:    "function_external",
			AdditionalIdentifiers: []string{"product_discounts", "order_discounts", "shipping_discounts", "payment_customization", "delivery_customization"},
			ExternalName:          "Function",
			Experience:            ExperienceExtension,
			Kind:                  KindFunction,
			Draftable:             true,
			RegistrationLimit:     50,
		},
		{
			Identifier:         IdentifierTheme,
			ExternalIdentifier: "theme_app_extension",
			ExternalName:       "Theme app extension",
			Experience:         ExperienceExtension,
			Kind:               KindTheme,
			RegistrationLimit:  1,
		},
	}
}
