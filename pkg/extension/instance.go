package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Payload is the type-specific configuration of an instance. The concrete
// types are *FunctionConfig, *UIConfig, *CollectionConfig, *ThemeConfig and
// *ConfigSection.
type Payload interface {
	payloadKind() Kind
}

// BaseConfig holds the fields every extension file declares.
type BaseConfig struct {
	Name        string      `toml:"name" json:"name"`
	Type        string      `toml:"type" json:"type"`
	Handle      string      `toml:"handle" json:"handle,omitempty"`
	Description string      `toml:"description" json:"description,omitempty"`
	APIVersion  string      `toml:"api_version" json:"api_version,omitempty"`
	Build       BuildConfig `toml:"build" json:"build,omitempty"`
}

// BuildConfig configures how the extension is built during development.
type BuildConfig struct {
	Command string   `toml:"command" json:"command,omitempty"`
	Path    string   `toml:"path" json:"path,omitempty"`
	Watch   []string `toml:"watch" json:"watch,omitempty"`
}

// FunctionConfig is the payload of a function extension.
type FunctionConfig struct {
	UI    *FunctionUI    `toml:"ui" json:"ui,omitempty"`
	Input *FunctionInput `toml:"input" json:"input,omitempty"`
}

// FunctionUI links a function to the UI extension that configures it.
type FunctionUI struct {
	Handle       string `toml:"handle" json:"handle,omitempty"`
	EnableCreate bool   `toml:"enable_create" json:"enable_create,omitempty"`
}

// FunctionInput points at the input query of a function.
type FunctionInput struct {
	Query string `toml:"query" json:"query,omitempty"`
}

// UIConfig is the payload of a UI extension.
type UIConfig struct {
	ExtensionPoints []ExtensionPoint `toml:"extension_points" json:"extension_points"`
}

// ExtensionPoint binds a module to a target surface.
type ExtensionPoint struct {
	Target string `toml:"target" json:"target"`
	Module string `toml:"module" json:"module"`
}

// CollectionConfig is the payload of an editor extension collection.
type CollectionConfig struct {
	Includes []string           `toml:"includes" json:"includes,omitempty"`
	Include  []CollectionMember `toml:"include" json:"include,omitempty"`
}

// CollectionMember references a member extension by handle.
type CollectionMember struct {
	Handle string `toml:"handle" json:"handle"`
}

// Members returns every referenced handle, short form first, without duplicates.
func (c *CollectionConfig) Members() []CollectionMember {
	seen := make(map[string]bool)
	var out []CollectionMember
	add := func(h string) {
		if h == "" || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, CollectionMember{Handle: h})
	}
	for _, h := range c.Includes {
		add(h)
	}
	for _, m := range c.Include {
		add(m.Handle)
	}
	return out
}

// ThemeConfig is the payload of a theme app extension.
type ThemeConfig struct{}

// ConfigSection is the slice of the app configuration owned by a
// configuration module.
type ConfigSection struct {
	Values map[string]any
}

func (*FunctionConfig) payloadKind() Kind   { return KindFunction }
func (*UIConfig) payloadKind() Kind         { return KindUI }
func (*CollectionConfig) payloadKind() Kind { return KindUI }
func (*ThemeConfig) payloadKind() Kind      { return KindTheme }
func (*ConfigSection) payloadKind() Kind    { return KindConfig }

// Instance is one extension loaded from disk.
type Instance struct {
	LocalIdentifier   string
	Handle            string
	DevUUID           string
	Directory         string
	ConfigurationPath string
	Base              BaseConfig
	Specification     Specification
	Configuration     Payload
}

// NewConfigInstance builds the instance for a configuration module living in
// the app configuration file.
func NewConfigInstance(spec Specification, directory, configPath string, values map[string]any) *Instance {
	handle := HandleForIdentifier(spec.Identifier)
	return &Instance{
		LocalIdentifier:   handle,
		Handle:            handle,
		DevUUID:           uuid.NewString(),
		Directory:         directory,
		ConfigurationPath: configPath,
		Base:              BaseConfig{Name: spec.ExternalName, Type: spec.Identifier, Handle: handle},
		Specification:     spec,
		Configuration:     &ConfigSection{Values: deepCopyMap(values)},
	}
}

// Kind returns the capability set of the instance.
func (e *Instance) Kind() Kind {
	if e.Configuration != nil {
		return e.Configuration.payloadKind()
	}
	return e.Specification.Kind
}

// Name is the display name of the extension.
func (e *Instance) Name() string { return e.Base.Name }

// Type is the type declared in configuration.
func (e *Instance) Type() string { return e.Base.Type }

// IsDraftable reports whether the instance supports live drafts.
func (e *Instance) IsDraftable() bool { return e.Specification.Draftable }

// IsAppConfigExtension reports whether the instance is a configuration module.
func (e *Instance) IsAppConfigExtension() bool { return e.Specification.IsConfiguration() }

// IsFunctionExtension reports whether the instance is a function.
func (e *Instance) IsFunctionExtension() bool {
	_, ok := e.Configuration.(*FunctionConfig)
	return ok
}

// IsEditorExtensionCollection reports whether the instance is a collection.
func (e *Instance) IsEditorExtensionCollection() bool {
	_, ok := e.Configuration.(*CollectionConfig)
	return ok
}

// IDEnvironmentVariableName is the variable that pins the remote UUID of the
// extension, e.g. APPDEV_PRODUCT_BANNER_ID.
func (e *Instance) IDEnvironmentVariableName() string {
	return "APPDEV_" + strings.ToUpper(strings.ReplaceAll(e.Handle, "-", "_")) + "_ID"
}

// OutputPath is where the build writes its artifact.
func (e *Instance) OutputPath() string {
	switch e.Configuration.(type) {
	case *FunctionConfig:
		if e.Base.Build.Path != "" {
			return filepath.Join(e.Directory, e.Base.Build.Path)
		}
		return filepath.Join(e.Directory, "dist", "index.wasm")
	case *UIConfig:
		return filepath.Join(e.Directory, "dist", e.Handle+".js")
	default:
		return e.Directory
	}
}

// SectionValues returns the configuration-module values, or nil for other kinds.
func (e *Instance) SectionValues() map[string]any {
	if s, ok := e.Configuration.(*ConfigSection); ok {
		return s.Values
	}
	return nil
}

// Clone returns a copy whose payload can be changed without affecting e.
func (e *Instance) Clone() *Instance {
	c := *e
	switch p := e.Configuration.(type) {
	case *ConfigSection:
		c.Configuration = &ConfigSection{Values: deepCopyMap(p.Values)}
	case *UIConfig:
		points := make([]ExtensionPoint, len(p.ExtensionPoints))
		copy(points, p.ExtensionPoints)
		c.Configuration = &UIConfig{ExtensionPoints: points}
	case *FunctionConfig:
		fc := *p
		if p.UI != nil {
			ui := *p.UI
			fc.UI = &ui
		}
		c.Configuration = &fc
	case *CollectionConfig:
		cc := CollectionConfig{
			Includes: append([]string(nil), p.Includes...),
			Include:  append([]CollectionMember(nil), p.Include...),
		}
		c.Configuration = &cc
	}
	return &c
}

// Validate runs the checks an extension owns on its own configuration.
func (e *Instance) Validate(ctx context.Context) error {
	if err := ValidateHandle(e.Handle); err != nil {
		return fmt.Errorf("[%s] invalid handle %q: %w", e.Name(), e.Handle, err)
	}

	switch p := e.Configuration.(type) {
	case *UIConfig:
		var errs []error
		for _, point := range p.ExtensionPoints {
			if point.Target == "" {
				errs = append(errs, fmt.Errorf("[%s] extension point is missing a target", e.Name()))
				continue
			}
			if point.Module == "" {
				errs = append(errs, fmt.Errorf("[%s] extension point %s is missing a module", e.Name(), point.Target))
				continue
			}
			if _, err := os.Stat(filepath.Join(e.Directory, point.Module)); err != nil {
				errs = append(errs, fmt.Errorf("[%s] module %s for target %s: %w", e.Name(), point.Module, point.Target, err))
			}
		}
		return errors.Join(errs...)
	case *FunctionConfig:
		out := e.OutputPath()
		if _, err := os.Stat(out); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("[%s] stat function output: %w", e.Name(), err)
		}
		if err := ValidateWasm(ctx, out); err != nil {
			return fmt.Errorf("[%s] %w", e.Name(), err)
		}
		return nil
	case *CollectionConfig:
		if len(p.Members()) == 0 {
			return fmt.Errorf("[%s] extension collection must include at least one extension", e.Name())
		}
		return nil
	default:
		return nil
	}
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = deepCopyValue(val)
		}
		return s
	case []map[string]any:
		s := make([]map[string]any, len(t))
		for i, val := range t {
			s[i] = deepCopyMap(val)
		}
		return s
	default:
		return v
	}
}
