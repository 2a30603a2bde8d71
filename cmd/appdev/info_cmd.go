package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/Mindburn-Labs/appdev/pkg/app"
	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
)

type extensionInfo struct {
	Handle    string `json:"handle"`
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	Draftable bool   `json:"draftable"`
	Directory string `json:"directory,omitempty"`
}

type appInfo struct {
	Name        string          `json:"name"`
	Directory   string          `json:"directory"`
	Config      string          `json:"config"`
	Kind        string          `json:"kind"`
	ClientID    string          `json:"client_id,omitempty"`
	Scopes      []string        `json:"scopes"`
	Launchable  bool            `json:"launchable"`
	Extensions  []extensionInfo `json:"extensions"`
	Webs        []string        `json:"webs,omitempty"`
	Unversioned []string        `json:"unversioned_fields,omitempty"`
}

// runInfoCmd implements `appdev info`.
func runInfoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("info", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		configName string
		jsonOutput bool
	)
	cmd.StringVar(&path, "path", ".", "App directory")
	cmd.StringVar(&configName, "config", "", "Configuration name (app.<name>.toml)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	env, err := loadEnvironment(stderr)
	if err != nil {
		printError(stderr, err)
		return 2
	}
	dir, err := absDir(path)
	if err != nil {
		printError(stderr, err)
		return 2
	}
	a, err := env.loadApp(dir, configName)
	if err != nil {
		printError(stderr, err)
		return exitCode(err)
	}

	info := describe(a)
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(info)
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "%s%s%s\n", ColorBold, info.Name, ColorReset)
	_, _ = fmt.Fprintf(stdout, "  directory   %s\n", info.Directory)
	_, _ = fmt.Fprintf(stdout, "  config      %s (%s)\n", info.Config, info.Kind)
	if info.ClientID != "" {
		_, _ = fmt.Fprintf(stdout, "  client id   %s\n", info.ClientID)
	}
	_, _ = fmt.Fprintf(stdout, "  scopes      %v\n", info.Scopes)
	_, _ = fmt.Fprintf(stdout, "  launchable  %t\n", info.Launchable)
	printSection(stdout, "EXTENSIONS")
	if len(info.Extensions) == 0 {
		_, _ = fmt.Fprintln(stdout, "  (none)")
	}
	for _, e := range info.Extensions {
		draft := ""
		if e.Draftable {
			draft = " draftable"
		}
		_, _ = fmt.Fprintf(stdout, "  %-30s %s%s\n", e.Handle, e.Type, draft)
	}
	return 0
}

func describe(a *app.App) appInfo {
	info := appInfo{
		Name:        a.Name,
		Directory:   a.Directory,
		Config:      a.Configuration.Path,
		Kind:        string(a.Configuration.Kind()),
		ClientID:    a.Configuration.ClientID(),
		Scopes:      appconfig.ScopesArray(a.Configuration),
		Launchable:  app.AppIsLaunchable(a),
		Extensions:  []extensionInfo{},
		Unversioned: appconfig.FilterNonVersionedFields(a.Configuration.Raw),
	}
	for _, e := range a.AllExtensions() {
		info.Extensions = append(info.Extensions, extensionInfo{
			Handle:    e.Handle,
			Type:      e.Type(),
			Kind:      string(e.Kind()),
			Draftable: e.IsDraftable(),
			Directory: e.Directory,
		})
	}
	sort.Slice(info.Extensions, func(i, j int) bool { return info.Extensions[i].Handle < info.Extensions[j].Handle })
	for _, w := range a.Webs {
		info.Webs = append(info.Webs, w.Directory)
	}
	return info
}
