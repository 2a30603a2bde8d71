package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/appdev/pkg/app"
	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/devserver"
	"github.com/Mindburn-Labs/appdev/pkg/devsession"
	"github.com/Mindburn-Labs/appdev/pkg/identifiers"
	"github.com/Mindburn-Labs/appdev/pkg/localstorage"
	"github.com/Mindburn-Labs/appdev/pkg/observability"
	"github.com/Mindburn-Labs/appdev/pkg/remote"
	"github.com/Mindburn-Labs/appdev/pkg/toolchain"
)

// devContext is a variable to allow stopping the session in tests
var devContext = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runDevCmd implements `appdev dev`: it opens a dev session, pushes a first
// draft of every draftable extension and keeps them in sync until
// interrupted.
func runDevCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("dev", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path        string
		configName  string
		proxyURL    string
		apiKey      string
		isolate     bool
		pinIDs      bool
		noDevServer bool
	)
	cmd.StringVar(&path, "path", ".", "App directory")
	cmd.StringVar(&configName, "config", "", "Configuration name (defaults to the cached selection)")
	cmd.StringVar(&proxyURL, "proxy-url", "", "Public URL of the dev proxy (REQUIRED)")
	cmd.StringVar(&apiKey, "api-key", "", "Remote app API key (defaults to the pinned or configured client id)")
	cmd.BoolVar(&isolate, "isolate", false, "Keep healthy extensions running when one fails")
	cmd.BoolVar(&pinIDs, "pin-ids", false, "Write the remote extension ids to .env")
	cmd.BoolVar(&noDevServer, "no-dev-server", false, "Do not serve live-reload websocket updates")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if proxyURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --proxy-url is required")
		return 2
	}

	env, err := loadEnvironment(stderr)
	if err != nil {
		printError(stderr, err)
		return 2
	}
	cfg, logger := env.cfg, env.logger

	ctx, stop := devContext()
	defer stop()

	telemetry := observability.Disabled()
	if cfg.TelemetryEnabled {
		tcfg := observability.DefaultConfig()
		tcfg.Enabled = true
		tcfg.OTLPEndpoint = cfg.OTLPEndpoint
		p, terr := observability.New(ctx, tcfg)
		if terr != nil {
			logger.Warn("telemetry disabled", "error", terr)
		} else {
			telemetry = p
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = p.Shutdown(sctx)
			}()
		}
	}

	cache, closer, err := localstorage.Open(cfg.CacheDSN)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer func() { _ = closer.Close() }()

	dir, err := absDir(path)
	if err != nil {
		printError(stderr, err)
		return 2
	}
	cached, err := cache.GetAppInfo(ctx, dir)
	if err != nil {
		logger.Warn("ignoring unreadable cache", "error", err)
		cached = nil
	}
	if configName == "" && cached != nil {
		configName = cached.ConfigFile
	}

	a, err := env.loadApp(dir, configName)
	if err != nil {
		printError(stderr, err)
		return exitCode(err)
	}

	pinned := app.GetAppIdentifiers(a, nil)
	switch {
	case apiKey != "":
	case pinned.App != "":
		apiKey = pinned.App
	case cached != nil && cached.AppID != "":
		apiKey = cached.AppID
	default:
		apiKey = a.Configuration.ClientID()
	}
	if apiKey == "" {
		_, _ = fmt.Fprintf(stderr, "Error: no app to develop against; pass --api-key or set client_id in %s\n", filepath.Base(a.Configuration.Path))
		return 2
	}

	client := remote.NewClient(cfg.APIURL, cfg.Token,
		remote.WithHTTPDoer(remote.NewResilientTransport(&http.Client{Timeout: 30 * time.Second})),
		remote.WithLogger(logger.With("component", "remote")),
	)
	installer, err := toolchain.NewInstaller(cfg.ToolchainDir, cfg.ToolchainVersion, &toolchain.HTTPFetcher{BaseURL: cfg.ToolchainURL})
	if err != nil {
		printError(stderr, err)
		return 2
	}

	hub := devserver.NewHub()
	defer hub.Close()
	if !noDevServer {
		mux := http.NewServeMux()
		mux.Handle("/extensions", hub)
		srv := &http.Server{Addr: cfg.DevServerAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("dev server stopped", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	builder := &devsession.CommandBuilder{Stdout: stdout, Stderr: stderr, Toolchain: installer, Logger: logger.With("component", "builder")}
	policy := devsession.AbortOnFailure
	if isolate || cfg.FailurePolicy == "isolate" {
		policy = devsession.IsolateFailures
	}

	process, err := devsession.SetupDraftableExtensionsProcess(ctx, devsession.SetupOptions{
		App:           a,
		APIKey:        apiKey,
		Token:         cfg.Token,
		RemoteApp:     identifiers.RemoteApp{APIKey: apiKey, Title: a.Name},
		ProxyURL:      proxyURL,
		Registrations: client,
		Policy:        policy,
		Deps: devsession.Dependencies{
			Sessions:  client,
			Drafts:    client,
			Builder:   builder,
			Toolchain: installer,
			Notifier:  hub,
			Telemetry: telemetry,
			Logger:    logger.With("component", "devsession"),
			Watchers: &devsession.PollingWatcher{
				Builder:     builder,
				Drafts:      client,
				Notifier:    hub,
				Telemetry:   telemetry,
				Logger:      logger.With("component", "watcher"),
				Interval:    cfg.PollInterval,
				RebuildRate: cfg.RebuildRate,
			},
		},
	})
	if err != nil {
		printError(stderr, err)
		return exitCode(err)
	}
	if process == nil {
		_, _ = fmt.Fprintln(stdout, "No draftable extensions to develop.")
		return 0
	}

	updateURLs := appconfig.AutomaticallyUpdateURLsOnDev(a.Configuration)
	if err := cache.SetAppInfo(ctx, localstorage.CachedAppInfo{
		Directory:  dir,
		ConfigFile: filepath.Base(a.Configuration.Path),
		AppID:      apiKey,
		Title:      a.Name,
		UpdateURLs: &updateURLs,
	}); err != nil {
		logger.Warn("could not cache app information", "error", err)
	}
	if pinIDs {
		uuids := make(map[string]string, len(process.Options.Extensions))
		for _, ext := range process.Options.Extensions {
			uuids[ext.LocalIdentifier] = ext.DevUUID
		}
		if err := app.WriteAppIdentifiers(a, uuids); err != nil {
			logger.Warn("could not pin extension ids", "error", err)
		}
	}

	run, err := process.Run(ctx)
	if run != nil {
		printResults(stdout, run.Results())
	}
	if err != nil {
		printError(stderr, err)
		return exitCode(err)
	}

	_, _ = fmt.Fprintf(stdout, "%s[%s]%s watching %d extensions. Press Ctrl+C to stop.\n",
		ColorCyan, process.Prefix, ColorReset, len(process.Options.Extensions))
	run.Wait()
	_, _ = fmt.Fprintf(stdout, "[%s] dev session stopped\n", process.Prefix)
	return 0
}

func printResults(w io.Writer, results map[string]error) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := results[id]; err != nil {
			_, _ = fmt.Fprintf(w, "  %s✗%s %s: %v\n", ColorRed, ColorReset, id, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "  %s✓%s %s draft pushed\n", ColorGreen, ColorReset, id)
	}
}
