package extension

import (
	"encoding/base64"
	"fmt"
	"os"
)

// DraftConfig assembles the payload pushed as the extension's draft. UI
// extensions carry their built bundle, functions reference their module.
func (e *Instance) DraftConfig() (map[string]any, error) {
	cfg := map[string]any{
		"name":   e.Base.Name,
		"handle": e.Handle,
		"type":   e.Specification.Identifier,
	}
	if e.Base.APIVersion != "" {
		cfg["api_version"] = e.Base.APIVersion
	}
	if e.Base.Description != "" {
		cfg["description"] = e.Base.Description
	}

	switch p := e.Configuration.(type) {
	case *UIConfig:
		points := make([]any, 0, len(p.ExtensionPoints))
		for _, point := range p.ExtensionPoints {
			points = append(points, map[string]any{"target": point.Target, "module": point.Module})
		}
		cfg["extension_points"] = points

		bundle, err := os.ReadFile(e.OutputPath())
		if err != nil {
			return nil, fmt.Errorf("read bundle for %s: %w", e.LocalIdentifier, err)
		}
		cfg["serialized_script"] = base64.StdEncoding.EncodeToString(bundle)
	case *FunctionConfig:
		if p.UI != nil && p.UI.Handle != "" {
			cfg["ui"] = map[string]any{"handle": p.UI.Handle, "enable_create": p.UI.EnableCreate}
		}
		if p.Input != nil && p.Input.Query != "" {
			cfg["input_query_path"] = p.Input.Query
		}
		module, err := os.ReadFile(e.OutputPath())
		if err != nil {
			return nil, fmt.Errorf("read module for %s: %w", e.LocalIdentifier, err)
		}
		cfg["module"] = base64.StdEncoding.EncodeToString(module)
	case *ConfigSection:
		for k, v := range p.Values {
			cfg[k] = v
		}
	}
	return cfg, nil
}
