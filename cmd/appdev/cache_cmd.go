package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/localstorage"
)

// runCacheCmd implements `appdev cache <show|clear|clear-all|use-config>`.
func runCacheCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	cmd := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		configName string
	)
	cmd.StringVar(&path, "path", ".", "App directory")
	cmd.StringVar(&configName, "config", "", "Configuration name to select (use-config)")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	env, err := loadEnvironment(stderr)
	if err != nil {
		printError(stderr, err)
		return 2
	}
	cache, closer, err := localstorage.Open(env.cfg.CacheDSN)
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
	ctx := context.Background()

	switch sub {
	case "show":
		info, err := cache.GetAppInfo(ctx, dir)
		if err != nil {
			printError(stderr, err)
			return 1
		}
		if info == nil {
			_, _ = fmt.Fprintf(stdout, "Nothing cached for %s\n", dir)
			return 0
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(info)
	case "clear":
		err = cache.ClearAppInfo(ctx, dir)
	case "clear-all":
		err = cache.ClearAllAppInfo(ctx)
	case "use-config":
		if configName == "" {
			err = cache.ClearCurrentConfigFile(ctx, dir)
			break
		}
		err = cache.SetCurrentConfigFile(ctx, localstorage.CachedAppInfo{Directory: dir, ConfigFile: appconfig.FileName(configName)})
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown cache subcommand: %s\n", sub)
		return 2
	}
	if err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}
