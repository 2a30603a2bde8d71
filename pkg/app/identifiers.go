package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DotEnvFileName is the env file read from the app directory.
const DotEnvFileName = ".env"

// DotEnvFile is a parsed .env file.
type DotEnvFile struct {
	Path      string
	Variables map[string]string
}

// ReadDotEnv parses dir/.env. A missing file yields nil and no error.
func ReadDotEnv(dir string) (*DotEnvFile, error) {
	path := filepath.Join(dir, DotEnvFileName)
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &DotEnvFile{Path: path, Variables: vars}, nil
}

// Identifiers are the remote identifiers pinned through the environment.
type Identifiers struct {
	// App is the app id (client id), if pinned.
	App string
	// Extensions maps local identifiers to remote extension UUIDs.
	Extensions map[string]string
}

// LookupEnvFunc resolves a variable; os.LookupEnv satisfies it.
type LookupEnvFunc func(string) (string, bool)

// GetAppIdentifiers collects the identifiers pinned by environment variables.
// The process environment wins over the .env file.
func GetAppIdentifiers(a *App, lookup LookupEnvFunc) Identifiers {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) string {
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		if a.DotEnv != nil {
			return a.DotEnv.Variables[name]
		}
		return ""
	}

	ids := Identifiers{
		App:        get(a.IDEnvironmentVariableName),
		Extensions: make(map[string]string),
	}
	for _, e := range a.AllExtensions() {
		if v := get(e.IDEnvironmentVariableName()); v != "" {
			ids.Extensions[e.LocalIdentifier] = v
		}
	}
	return ids
}

// WriteAppIdentifiers stores the given extension UUIDs in the app's .env file,
// keeping every other variable.
func WriteAppIdentifiers(a *App, uuids map[string]string) error {
	dotenv := a.DotEnv
	if dotenv == nil {
		dotenv = &DotEnvFile{Path: filepath.Join(a.Directory, DotEnvFileName), Variables: map[string]string{}}
	}
	changed := false
	for _, e := range a.AllExtensions() {
		id, ok := uuids[e.LocalIdentifier]
		if !ok || id == "" {
			continue
		}
		name := e.IDEnvironmentVariableName()
		if dotenv.Variables[name] != id {
			dotenv.Variables[name] = id
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := godotenv.Write(dotenv.Variables, dotenv.Path); err != nil {
		return fmt.Errorf("write %s: %w", dotenv.Path, err)
	}
	a.DotEnv = dotenv
	return nil
}
