package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// WebConfigFileName marks a directory as a web process of the app.
const WebConfigFileName = "web.toml"

// WebType is the role a web process plays.
type WebType string

const (
	WebFrontend   WebType = "frontend"
	WebBackend    WebType = "backend"
	WebBackground WebType = "background"
)

// WebCommands are the commands used to run a web process.
type WebCommands struct {
	Build string `toml:"build"`
	Dev   string `toml:"dev"`
}

// WebConfiguration is a processed web.toml: the legacy single type has been
// folded into Roles and every path starts with a slash.
type WebConfiguration struct {
	Name              string
	Roles             []WebType
	AuthCallbackPaths []string
	WebhooksPath      string
	Port              int
	Commands          WebCommands
	HMRPaths          []string
}

// Web is one web process found on disk.
type Web struct {
	Directory     string
	Configuration WebConfiguration
}

// HasRole reports whether the web plays role t.
func (w Web) HasRole(t WebType) bool {
	return slices.Contains(w.Configuration.Roles, t)
}

type webFile struct {
	Name             string      `toml:"name"`
	Roles            []WebType   `toml:"roles"`
	Type             WebType     `toml:"type"`
	AuthCallbackPath any         `toml:"auth_callback_path"`
	WebhooksPath     string      `toml:"webhooks_path"`
	Port             *int        `toml:"port"`
	Commands         WebCommands `toml:"commands"`
	HMRServer        *struct {
		HTTPPaths []string `toml:"http_paths"`
	} `toml:"hmr_server"`
}

var validWebTypes = []WebType{WebFrontend, WebBackend, WebBackground}

// LoadWeb reads dir/web.toml.
func LoadWeb(dir string) (Web, error) {
	path := filepath.Join(dir, WebConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Web{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := DecodeWebConfiguration(data)
	if err != nil {
		return Web{}, fmt.Errorf("%s: %w", path, err)
	}
	return Web{Directory: dir, Configuration: cfg}, nil
}

// DecodeWebConfiguration parses and normalises a web.toml document.
func DecodeWebConfiguration(data []byte) (WebConfiguration, error) {
	var f webFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return WebConfiguration{}, fmt.Errorf("parse web configuration: %w", err)
	}
	if f.Commands.Dev == "" {
		return WebConfiguration{}, errors.New("web configuration: commands.dev is required")
	}

	roles := f.Roles
	if len(roles) == 0 {
		t := f.Type
		if t == "" {
			t = WebFrontend
		}
		roles = []WebType{t}
	}
	for _, r := range roles {
		if !slices.Contains(validWebTypes, r) {
			return WebConfiguration{}, fmt.Errorf("web configuration: unknown role %q", r)
		}
	}

	cfg := WebConfiguration{
		Name:         f.Name,
		Roles:        roles,
		WebhooksPath: ensureLeadingSlash(f.WebhooksPath),
		Commands:     f.Commands,
	}
	if f.Port != nil {
		if *f.Port < 0 || *f.Port > 65536 {
			return WebConfiguration{}, fmt.Errorf("web configuration: port %d out of range", *f.Port)
		}
		cfg.Port = *f.Port
	}
	if f.HMRServer != nil {
		cfg.HMRPaths = f.HMRServer.HTTPPaths
	}

	switch v := f.AuthCallbackPath.(type) {
	case nil:
	case string:
		cfg.AuthCallbackPaths = []string{ensureLeadingSlash(v)}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return WebConfiguration{}, fmt.Errorf("web configuration: auth_callback_path entries must be strings")
			}
			cfg.AuthCallbackPaths = append(cfg.AuthCallbackPaths, ensureLeadingSlash(s))
		}
	default:
		return WebConfiguration{}, fmt.Errorf("web configuration: auth_callback_path must be a string or a list")
	}
	return cfg, nil
}

func ensureLeadingSlash(p string) string {
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
