package appconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrAmbiguousConfiguration is returned when a document validates against
// both the legacy and the versioned schema.
var ErrAmbiguousConfiguration = errors.New("app configuration matches both the legacy and the current schema")

// Kind tells the two configuration shapes apart.
type Kind string

const (
	KindLegacy  Kind = "legacy"
	KindCurrent Kind = "current"
)

// Configuration is a classified app configuration document.
type Configuration struct {
	kind Kind

	// Path is the file the document was read from, if any.
	Path string
	// Raw keeps every field of the document, including fragment sections.
	Raw map[string]any
}

// NewConfiguration wraps an already classified document.
func NewConfiguration(kind Kind, path string, raw map[string]any) *Configuration {
	if raw == nil {
		raw = map[string]any{}
	}
	return &Configuration{kind: kind, Path: path, Raw: raw}
}

// Kind reports which schema the document matched.
func (c *Configuration) Kind() Kind { return c.kind }

// IsLegacy reports whether the document uses the legacy shape.
func (c *Configuration) IsLegacy() bool { return c.kind == KindLegacy }

// IsCurrent reports whether the document uses the versioned shape.
func (c *Configuration) IsCurrent() bool { return c.kind == KindCurrent }

// ClientID returns the client id as a string in both shapes.
func (c *Configuration) ClientID() string {
	switch v := c.Raw["client_id"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Name returns the legacy name field.
func (c *Configuration) Name() string {
	s, _ := c.Raw["name"].(string)
	return s
}

// Section returns a top-level table of the document.
func (c *Configuration) Section(key string) (map[string]any, bool) {
	m, ok := c.Raw[key].(map[string]any)
	return m, ok
}

// ExtensionDirectories returns the configured extension directory globs.
func (c *Configuration) ExtensionDirectories() []string { return c.stringList("extension_directories") }

// WebDirectories returns the configured web directory globs.
func (c *Configuration) WebDirectories() []string { return c.stringList("web_directories") }

func (c *Configuration) stringList(key string) []string {
	switch v := c.Raw[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (c *Configuration) lookup(path ...string) (any, bool) {
	var cur any = c.Raw
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Issue is a single schema violation.
type Issue struct {
	Branch   Kind
	Location string
	Message  string
}

// ValidationError lists why a document matched neither schema.
type ValidationError struct {
	Path   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		fmt.Fprintf(&b, "invalid app configuration %s:", e.Path)
	} else {
		b.WriteString("invalid app configuration:")
	}
	for _, is := range e.Issues {
		loc := is.Location
		if loc == "" {
			loc = "/"
		}
		fmt.Fprintf(&b, "\n  [%s] %s: %s", is.Branch, loc, is.Message)
	}
	return b.String()
}

// Fields returns the distinct offending instance locations.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, is := range e.Issues {
		if !seen[is.Location] {
			seen[is.Location] = true
			out = append(out, is.Location)
		}
	}
	sort.Strings(out)
	return out
}

var legacySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return compileDocument("legacy", legacyDocument())
})

// Classify validates doc against the legacy schema and the resolved current
// schema. Exactly one must accept it.
func Classify(doc map[string]any, schema *Schema) (*Configuration, error) {
	if schema == nil {
		return nil, errors.New("classify app configuration: no schema resolved")
	}
	legacy, err := legacySchema()
	if err != nil {
		return nil, err
	}

	instance, err := normalize(doc)
	if err != nil {
		return nil, fmt.Errorf("classify app configuration: %w", err)
	}

	legacyErr := legacy.Validate(instance)
	currentErr := schema.Validate(instance)

	switch {
	case legacyErr == nil && currentErr == nil:
		return nil, ErrAmbiguousConfiguration
	case legacyErr == nil:
		return NewConfiguration(KindLegacy, "", doc), nil
	case currentErr == nil:
		return NewConfiguration(KindCurrent, "", doc), nil
	}

	verr := &ValidationError{}
	verr.Issues = append(verr.Issues, issues(KindLegacy, legacyErr)...)
	verr.Issues = append(verr.Issues, issues(KindCurrent, currentErr)...)
	return nil, verr
}

func issues(branch Kind, err error) []Issue {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{{Branch: branch, Message: err.Error()}}
	}
	var out []Issue
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			out = append(out, Issue{Branch: branch, Location: v.InstanceLocation, Message: v.Message})
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

// normalize converts a decoded TOML document into the JSON data model the
// validator expects.
func normalize(doc map[string]any) (any, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
