package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

type validateReport struct {
	Valid  bool     `json:"valid"`
	App    string   `json:"app,omitempty"`
	Config string   `json:"config,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// runValidateCmd implements `appdev validate`.
//
// Exit codes:
//
//	0 = the app is valid
//	1 = pre-deploy validation failed
//	2 = the app could not be loaded
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		configName string
		jsonOutput bool
	)
	cmd.StringVar(&path, "path", ".", "App directory")
	cmd.StringVar(&configName, "config", "", "Configuration name (app.<name>.toml)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
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

	report := validateReport{}
	code := 0
	a, err := env.loadApp(dir, configName)
	if err != nil {
		report.Errors = strings.Split(err.Error(), "\n")
		code = exitCode(err)
	} else {
		report.App = a.Name
		report.Config = a.Configuration.Path
		if err := a.PreDeployValidation(context.Background()); err != nil {
			report.Errors = strings.Split(err.Error(), "\n")
			code = 1
		}
	}
	report.Valid = code == 0

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return code
	}
	if report.Valid {
		_, _ = fmt.Fprintf(stdout, "%s✓%s %s is valid (%s)\n", ColorGreen, ColorReset, report.App, report.Config)
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "%s✗ validation failed%s\n", ColorRed, ColorReset)
	for _, line := range report.Errors {
		_, _ = fmt.Fprintf(stderr, "  %s\n", line)
	}
	return code
}
