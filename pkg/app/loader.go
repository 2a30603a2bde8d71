package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// Default directory globs used when the configuration declares none.
var (
	DefaultExtensionDirectories = []string{"extensions/*"}
	DefaultWebDirectories       = []string{"web", "web/*"}
)

// ErrDuplicateHandle is returned when two extensions share a handle.
var ErrDuplicateHandle = errors.New("duplicate extension handle")

// LoadOptions configure Load.
type LoadOptions struct {
	Directory  string
	ConfigName string
	Catalog    *extension.Catalog
	// AllowDynamicConfigs lets unknown top-level configuration fields through.
	AllowDynamicConfigs bool
	RemoteFlags         []Flag
	Logger              *slog.Logger
}

// Load reads an app directory: the app configuration, every extension and
// web it references, the configuration modules and the .env file.
func Load(opts LoadOptions) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "app-loader")
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = extension.DefaultCatalog()
	}
	dir, err := filepath.Abs(opts.Directory)
	if err != nil {
		return nil, fmt.Errorf("resolve app directory: %w", err)
	}

	specs := catalog.Specifications()
	schema, err := appconfig.ResolveSchema(specs, appconfig.ResolveOptions{AllowDynamicallySpecifiedConfigs: opts.AllowDynamicConfigs})
	if err != nil {
		return nil, err
	}
	cfg, err := appconfig.Load(dir, opts.ConfigName, schema)
	if err != nil {
		return nil, err
	}

	modules, err := loadExtensions(dir, cfg, catalog, logger)
	if err != nil {
		return nil, err
	}
	modules = append(modules, configModules(dir, cfg, catalog)...)
	if err := checkDuplicateHandles(modules); err != nil {
		return nil, err
	}

	webs, err := loadWebs(dir, cfg)
	if err != nil {
		return nil, err
	}

	dotenv, err := ReadDotEnv(dir)
	if err != nil {
		return nil, err
	}

	logger.Debug("app loaded",
		"directory", dir,
		"config", cfg.Path,
		"kind", cfg.Kind(),
		"modules", len(modules),
		"webs", len(webs),
	)

	return New(Options{
		Name:           appName(dir, cfg),
		Directory:      dir,
		Configuration:  cfg,
		ConfigSchema:   schema,
		Webs:           webs,
		Modules:        modules,
		Specifications: specs,
		RemoteFlags:    opts.RemoteFlags,
		DotEnv:         dotenv,
	})
}

func appName(dir string, cfg *appconfig.Configuration) string {
	if n := cfg.Name(); n != "" {
		return n
	}
	return filepath.Base(dir)
}

func globDirectories(root string, patterns []string, marker string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern, marker))
		if err != nil {
			return nil, fmt.Errorf("invalid directory pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			d := filepath.Dir(m)
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func loadExtensions(dir string, cfg *appconfig.Configuration, catalog *extension.Catalog, logger *slog.Logger) ([]*extension.Instance, error) {
	patterns := cfg.ExtensionDirectories()
	if len(patterns) == 0 {
		patterns = DefaultExtensionDirectories
	}
	dirs, err := globDirectories(dir, patterns, extension.ConfigFileName)
	if err != nil {
		return nil, err
	}

	var out []*extension.Instance
	var errs []error
	for _, d := range dirs {
		inst, err := extension.LoadInstance(d, catalog)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug("extension loaded", "handle", inst.Handle, "type", inst.Type(), "directory", d)
		out = append(out, inst)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// configModules builds one instance per configuration specification whose
// sections appear in a current configuration document.
func configModules(dir string, cfg *appconfig.Configuration, catalog *extension.Catalog) []*extension.Instance {
	if !cfg.IsCurrent() {
		return nil
	}
	var out []*extension.Instance
	for _, spec := range catalog.ConfigurationSpecifications() {
		values := make(map[string]any)
		for _, key := range spec.SectionKeys() {
			if v, ok := cfg.Raw[key]; ok {
				values[key] = v
			}
		}
		if len(values) == 0 {
			continue
		}
		out = append(out, extension.NewConfigInstance(spec, dir, cfg.Path, values))
	}
	return out
}

func checkDuplicateHandles(modules []*extension.Instance) error {
	byHandle := make(map[string][]string)
	for _, m := range modules {
		byHandle[m.Handle] = append(byHandle[m.Handle], m.Directory)
	}
	var dups []string
	for handle, dirs := range byHandle {
		if len(dirs) > 1 {
			dups = append(dups, fmt.Sprintf("%s (%s)", handle, strings.Join(dirs, ", ")))
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return fmt.Errorf("%w: %s", ErrDuplicateHandle, strings.Join(dups, "; "))
}

func loadWebs(dir string, cfg *appconfig.Configuration) ([]Web, error) {
	patterns := cfg.WebDirectories()
	if len(patterns) == 0 {
		patterns = DefaultWebDirectories
	}
	dirs, err := globDirectories(dir, patterns, WebConfigFileName)
	if err != nil {
		return nil, err
	}
	webs := make([]Web, 0, len(dirs))
	for _, d := range dirs {
		if _, err := os.Stat(filepath.Join(d, WebConfigFileName)); err != nil {
			continue
		}
		w, err := LoadWeb(d)
		if err != nil {
			return nil, err
		}
		webs = append(webs, w)
	}
	return webs, nil
}
