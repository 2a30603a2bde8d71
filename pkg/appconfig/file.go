package appconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFileName is the app configuration file used when no environment
// name is given.
const DefaultFileName = "app.toml"

// ErrConfigNotFound is returned when the app directory has no configuration file.
var ErrConfigNotFound = errors.New("app configuration file not found")

var envNamePattern = regexp.MustCompile(`[^a-z0-9-]+`)

// FileName maps a configuration name to its file. "" and "default" select
// app.toml; any other name selects app.<name>.toml. A name that already is a
// file name is returned as is.
func FileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "default" {
		return DefaultFileName
	}
	if strings.HasPrefix(name, "app.") && strings.HasSuffix(name, ".toml") {
		return name
	}
	slug := strings.Trim(envNamePattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
	return "app." + slug + ".toml"
}

// ConfigFiles lists every app configuration file in dir, app.toml first.
func ConfigFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "app.*toml"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		base := filepath.Base(m)
		if base == DefaultFileName || (strings.HasPrefix(base, "app.") && strings.HasSuffix(base, ".toml")) {
			out = append(out, base)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i] == DefaultFileName {
			return true
		}
		if out[j] == DefaultFileName {
			return false
		}
		return out[i] < out[j]
	})
	return out, nil
}

// ReadDocument decodes a TOML file into a generic document.
func ReadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Load reads and classifies dir/FileName(name).
func Load(dir, name string, schema *Schema) (*Configuration, error) {
	path := filepath.Join(dir, FileName(name))
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Classify(doc, schema)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
			return nil, verr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Write serialises cfg back to cfg.Path. The file is replaced atomically.
func Write(cfg *Configuration) error {
	if cfg.Path == "" {
		return errors.New("write app configuration: no path")
	}
	data, err := toml.Marshal(cfg.Raw)
	if err != nil {
		return fmt.Errorf("encode app configuration: %w", err)
	}
	return atomicWriteFile(cfg.Path, data, 0o644)
}

func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-app-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	var success bool
	defer func() {
		if !success {
			if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove temporary file", "path", tmp.Name(), "error", err)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filename, err)
	}
	success = true
	return nil
}
