// Package appconfig resolves the app configuration schema from the registered
// extension specifications and classifies configuration documents against it.
package appconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

const schemaBaseURL = "https://appdev.schemas.local/app-config/"

// ErrFieldCollision is returned when two contributors define the same
// top-level configuration field differently.
var ErrFieldCollision = errors.New("app configuration field defined twice")

// ResolveOptions tunes how the versioned schema is built.
type ResolveOptions struct {
	// AllowDynamicallySpecifiedConfigs lets unknown top-level fields through.
	AllowDynamicallySpecifiedConfigs bool
}

// Schema is the resolved versioned (current) app configuration schema.
type Schema struct {
	// Document is the merged JSON Schema.
	Document map[string]any
	// Contributors lists the specifications merged into the base, in order.
	Contributors []string
	// Closed reports whether unknown top-level fields are rejected.
	Closed bool

	owners   map[string]string
	compiled *jsonschema.Schema
}

// Validate checks a JSON-compatible instance against the schema.
func (s *Schema) Validate(instance any) error {
	return s.compiled.Validate(instance)
}

// Owner returns the contributor that defined a top-level field.
func (s *Schema) Owner(field string) (string, bool) {
	o, ok := s.owners[field]
	return o, ok
}

// Fields returns the top-level fields the schema knows about, sorted.
func (s *Schema) Fields() []string {
	out := make([]string, 0, len(s.owners))
	for f := range s.owners {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

const baseContributor = "app"

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

// baseProperties are the fields of the versioned schema before any
// specification contributes to it.
func baseProperties() map[string]any {
	return map[string]any{
		"client_id":       map[string]any{"type": "string"},
		"organization_id": map[string]any{"type": "string"},
		"build": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"automatically_update_urls_on_dev": map[string]any{"type": "boolean"},
				"dev_store_url":                    map[string]any{"type": "string"},
				"include_config_on_deploy":         map[string]any{"type": "boolean"},
			},
		},
		"extension_directories": stringArray(),
		"web_directories":       stringArray(),
	}
}

// BaseFields returns the top-level fields of the unextended versioned schema.
func BaseFields() []string {
	props := baseProperties()
	out := make([]string, 0, len(props))
	for k := range props {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func legacyDocument() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"client_id":             map[string]any{"type": "number"},
			"name":                  map[string]any{"type": "string"},
			"scopes":                map[string]any{"type": "string"},
			"extension_directories": stringArray(),
			"web_directories":       stringArray(),
		},
		"additionalProperties": false,
	}
}

// ResolveSchema folds the schema fragments of every configuration
// specification into the base versioned schema.
func ResolveSchema(specs []extension.Specification, opts ResolveOptions) (*Schema, error) {
	props := baseProperties()
	owners := make(map[string]string, len(props))
	for k := range props {
		owners[k] = baseContributor
	}

	var contributors []string
	for _, spec := range specs {
		if !spec.IsConfiguration() || len(spec.SchemaFragment) == 0 {
			continue
		}
		if _, err := compileDocument(spec.Identifier, fragmentDocument(spec.SchemaFragment)); err != nil {
			return nil, fmt.Errorf("schema fragment of %s: %w", spec.Identifier, err)
		}
		for _, field := range spec.SectionKeys() {
			def := spec.SchemaFragment[field]
			if existing, ok := props[field]; ok {
				if reflect.DeepEqual(existing, def) {
					continue
				}
				return nil, fmt.Errorf("%w: %q by %s and %s", ErrFieldCollision, field, owners[field], spec.Identifier)
			}
			props[field] = def
			owners[field] = spec.Identifier
		}
		contributors = append(contributors, spec.Identifier)
	}

	doc := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   []any{"client_id"},
	}
	closed := false
	switch {
	case opts.AllowDynamicallySpecifiedConfigs:
		doc["additionalProperties"] = true
	case len(specs) > 0:
		doc["additionalProperties"] = false
		closed = true
	}

	compiled, err := compileDocument("current", doc)
	if err != nil {
		return nil, fmt.Errorf("compile app configuration schema: %w", err)
	}
	return &Schema{
		Document:     doc,
		Contributors: contributors,
		Closed:       closed,
		owners:       owners,
		compiled:     compiled,
	}, nil
}

func fragmentDocument(fragment map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": fragment}
}

func compileDocument(name string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + name + ".schema.json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return compiled, nil
}
