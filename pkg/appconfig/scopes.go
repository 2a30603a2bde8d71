package appconfig

import (
	"sort"
	"strings"
)

// Scopes returns the access scopes string of either configuration shape.
func Scopes(cfg *Configuration) string {
	if cfg == nil {
		return ""
	}
	if cfg.IsLegacy() {
		s, _ := cfg.Raw["scopes"].(string)
		return s
	}
	v, _ := cfg.lookup("access_scopes", "scopes")
	s, _ := v.(string)
	return s
}

// ScopesArray splits the scopes string on commas.
func ScopesArray(cfg *Configuration) []string {
	scopes := Scopes(cfg)
	if scopes == "" {
		return []string{}
	}
	parts := strings.Split(scopes, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// UsesLegacyScopesBehavior is always true for legacy documents and opt-in for
// current ones.
func UsesLegacyScopesBehavior(cfg *Configuration) bool {
	if cfg == nil {
		return false
	}
	if cfg.IsLegacy() {
		return true
	}
	v, _ := cfg.lookup("access_scopes", "use_legacy_install_flow")
	b, _ := v.(bool)
	return b
}

// IncludeConfigOnDeploy reports build.include_config_on_deploy.
func IncludeConfigOnDeploy(cfg *Configuration) bool {
	if cfg == nil || !cfg.IsCurrent() {
		return false
	}
	v, _ := cfg.lookup("build", "include_config_on_deploy")
	b, _ := v.(bool)
	return b
}

// AutomaticallyUpdateURLsOnDev reports build.automatically_update_urls_on_dev.
func AutomaticallyUpdateURLsOnDev(cfg *Configuration) bool {
	if cfg == nil || !cfg.IsCurrent() {
		return false
	}
	v, _ := cfg.lookup("build", "automatically_update_urls_on_dev")
	b, _ := v.(bool)
	return b
}

// FilterNonVersionedFields returns the top-level keys of doc that are not part
// of the base versioned schema.
func FilterNonVersionedFields(doc map[string]any) []string {
	base := make(map[string]bool)
	for _, f := range BaseFields() {
		base[f] = true
	}
	base["path"] = true

	var out []string
	for k := range doc {
		if !base[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
