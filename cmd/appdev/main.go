package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/appdev/pkg/app"
	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/config"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
	"github.com/Mindburn-Labs/appdev/pkg/observability"
	"github.com/Mindburn-Labs/appdev/pkg/remote"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "info":
		return runInfoCmd(args[2:], stdout, stderr)
	case "dev":
		return runDevCmd(args[2:], stdout, stderr)
	case "cache":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: appdev cache <show|clear|clear-all|use-config>")
			return 2
		}
		return runCacheCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "appdev %s\n", observability.Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sappdev %s%s\n", ColorBold+ColorBlue, observability.Version, ColorReset)
	fmt.Fprintf(w, "%sLocal development for multi-extension apps.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  appdev <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "APP")
	printCommand(w, "validate", "Load the app and run pre-deploy validation (--path, --config, --json)")
	printCommand(w, "info", "Show the app, its configuration and extensions (--path, --json)")
	printCommand(w, "dev", "Push drafts and live-reload extensions (--path, --proxy-url)")

	printSection(w, "UTILITIES")
	printCommand(w, "cache", "Inspect or clear cached app information")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// environment is what every command reads before doing its work.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadEnvironment(stderr io.Writer) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	slog.SetDefault(logger)
	return &environment{cfg: cfg, logger: logger}, nil
}

func (e *environment) catalog() (*extension.Catalog, error) {
	catalog := extension.DefaultCatalog()
	if e.cfg.CatalogDir == "" {
		return catalog, nil
	}
	extra, err := extension.LoadCatalogDir(e.cfg.CatalogDir)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", e.cfg.CatalogDir, err)
	}
	for _, spec := range extra.Specifications() {
		catalog.Register(spec)
	}
	return catalog, nil
}

func (e *environment) loadApp(dir, configName string) (*app.App, error) {
	catalog, err := e.catalog()
	if err != nil {
		return nil, err
	}
	return app.Load(app.LoadOptions{
		Directory:           dir,
		ConfigName:          configName,
		Catalog:             catalog,
		AllowDynamicConfigs: e.cfg.AllowDynamicConfigs,
		Logger:              e.logger.With("component", "app-loader"),
	})
}

func absDir(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}

// exitCode maps an error to the process exit code: 2 for usage and
// configuration problems, 1 for everything else.
func exitCode(err error) int {
	var (
		verr *appconfig.ValidationError
		uerr *remote.UserErrors
	)
	switch {
	case errors.Is(err, appconfig.ErrConfigNotFound),
		errors.Is(err, appconfig.ErrAmbiguousConfiguration),
		errors.Is(err, appconfig.ErrFieldCollision),
		errors.Is(err, app.ErrDuplicateHandle),
		errors.Is(err, extension.ErrUnknownType),
		errors.As(err, &verr),
		errors.As(err, &uerr):
		return 2
	default:
		return 1
	}
}

func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "%sError:%s %v\n", ColorRed, ColorReset, err)
}
