package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is the file that marks a directory as an extension.
const ConfigFileName = "extension.toml"

// ErrUnknownType is returned for an extension type no specification matches.
var ErrUnknownType = errors.New("unknown extension type")

// LoadInstance reads dir/extension.toml and builds the instance for it.
func LoadInstance(dir string, catalog *Catalog) (*Instance, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeInstance(dir, path, data, catalog)
}

// DecodeInstance builds an instance from the raw TOML of an extension file.
func DecodeInstance(dir, path string, data []byte, catalog *Catalog) (*Instance, error) {
	var base BaseConfig
	if err := toml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if base.Name == "" {
		return nil, fmt.Errorf("parse %s: name is required", path)
	}
	if base.Type == "" {
		return nil, fmt.Errorf("parse %s: type is required", path)
	}

	spec, ok := catalog.Lookup(base.Type)
	if !ok {
		return nil, fmt.Errorf("%s: %w %q", path, ErrUnknownType, base.Type)
	}

	handle := base.Handle
	if handle == "" {
		handle = Slugify(base.Name)
	}
	if err := ValidateHandle(handle); err != nil {
		return nil, fmt.Errorf("%s: handle %q: %w", path, handle, err)
	}

	payload, err := decodePayload(spec, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &Instance{
		LocalIdentifier:   handle,
		Handle:            handle,
		DevUUID:           uuid.NewString(),
		Directory:         dir,
		ConfigurationPath: path,
		Base:              base,
		Specification:     *spec,
		Configuration:     payload,
	}, nil
}

func decodePayload(spec *Specification, data []byte) (Payload, error) {
	switch {
	case spec.Identifier == IdentifierEditorExtensionCollection:
		var c CollectionConfig
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case spec.Kind == KindFunction:
		var f FunctionConfig
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return &f, nil
	case spec.Kind == KindUI:
		var u UIConfig
		if err := toml.Unmarshal(data, &u); err != nil {
			return nil, err
		}
		return &u, nil
	case spec.Kind == KindTheme:
		return &ThemeConfig{}, nil
	case spec.Kind == KindConfig:
		var values map[string]any
		if err := toml.Unmarshal(data, &values); err != nil {
			return nil, err
		}
		return &ConfigSection{Values: values}, nil
	default:
		return nil, fmt.Errorf("specification %s has no kind", spec.Identifier)
	}
}
