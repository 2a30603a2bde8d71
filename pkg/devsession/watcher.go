package devsession

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
	"github.com/Mindburn-Labs/appdev/pkg/observability"
	"github.com/Mindburn-Labs/appdev/pkg/remote"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultRebuildRate  = 2.0
	pushTimeout         = 30 * time.Second
)

// PollingWatcher watches an extension directory by hashing its content at a
// fixed interval. On change it rebuilds the extension and pushes a new draft
// unless the draft payload is unchanged.
type PollingWatcher struct {
	Builder   Builder
	Drafts    DraftPusher
	Notifier  Notifier
	Telemetry *observability.Provider
	Logger    *slog.Logger

	// Interval between two snapshots; DefaultPollInterval when zero.
	Interval time.Duration
	// RebuildRate caps rebuilds per second; DefaultRebuildRate when zero.
	RebuildRate float64
}

var _ WatcherStarter = (*PollingWatcher)(nil)

// StartWatcher takes the first snapshot and starts the watch loop, which
// runs until ctx is cancelled.
func (pw *PollingWatcher) StartWatcher(ctx context.Context, opts WatchOptions) (Watcher, error) {
	ext := opts.Extension
	if ext == nil {
		return nil, fmt.Errorf("start watcher: no extension")
	}
	interval := pw.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	r := pw.RebuildRate
	if r <= 0 {
		r = DefaultRebuildRate
	}
	logger := pw.Logger
	if logger == nil {
		logger = slog.Default().With("component", "devsession")
	}
	telemetry := pw.Telemetry
	if telemetry == nil {
		telemetry = observability.Disabled()
	}

	snap, err := Snapshot(ext)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", ext.LocalIdentifier, err)
	}

	w := &pollWatch{
		parent:    pw,
		opts:      opts,
		interval:  interval,
		limiter:   rate.NewLimiter(rate.Limit(r), 1),
		logger:    logger.With("extension", ext.LocalIdentifier),
		telemetry: telemetry,
		snapshot:  snap,
		done:      make(chan struct{}),
	}
	// The draft pushed by the pipeline is the baseline for dedupe.
	if cfg, err := ext.DraftConfig(); err == nil {
		if h, err := DraftHash(cfg); err == nil {
			w.lastDraft = h
		}
	}
	go w.loop(ctx)
	return w, nil
}

type pollWatch struct {
	parent    *PollingWatcher
	opts      WatchOptions
	interval  time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
	telemetry *observability.Provider

	mu        sync.Mutex
	snapshot  string
	lastDraft string

	done chan struct{}
}

func (w *pollWatch) Done() <-chan struct{} { return w.done }

func (w *pollWatch) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("watcher stopped")
			return
		case <-ticker.C:
		}

		snap, err := Snapshot(w.opts.Extension)
		if err != nil {
			w.logger.Warn("snapshot failed", "error", err)
			continue
		}
		w.mu.Lock()
		changed := snap != w.snapshot
		w.mu.Unlock()
		if !changed {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		w.rebuild(ctx)
	}
}

func (w *pollWatch) rebuild(ctx context.Context) {
	ext := w.opts.Extension
	ctx, done := w.telemetry.TrackOperation(ctx, "devsession.rebuild", observability.Extension(ext.Handle, ext.Type())...)

	err := w.parent.Builder.Build(ctx, ext)

	// Re-snapshot after the build so its own output does not retrigger it.
	if snap, serr := Snapshot(ext); serr == nil {
		w.mu.Lock()
		w.snapshot = snap
		w.mu.Unlock()
	}
	if w.parent.Notifier != nil {
		w.parent.Notifier.NotifyUpdate(ext, err)
	}
	if err != nil {
		w.logger.Error("rebuild failed", "error", err)
		done(err)
		return
	}

	err = w.push(ctx)
	if err != nil {
		w.logger.Error("draft update failed", "error", err)
	}
	done(err)
}

func (w *pollWatch) push(ctx context.Context) error {
	ext := w.opts.Extension
	cfg, err := ext.DraftConfig()
	if err != nil {
		return err
	}
	h, err := DraftHash(cfg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	unchanged := h == w.lastDraft
	w.mu.Unlock()
	if unchanged {
		observability.AddSpanEvent(ctx, "draft.skipped", observability.AttrDraftSkipped.Bool(true))
		w.logger.Debug("draft unchanged, skipping push")
		return nil
	}

	// A push that has started completes even if the session is stopping.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := w.parent.Drafts.UpdateExtensionDraft(pushCtx, remote.DraftInput{
		Extension:      ext,
		Token:          w.opts.Token,
		APIKey:         w.opts.APIKey,
		RegistrationID: w.opts.RegistrationID,
		Config:         cfg,
	}); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastDraft = h
	w.mu.Unlock()
	w.logger.Info("draft updated")
	return nil
}

// DraftHash is the SHA-256 of the canonical (RFC 8785) JSON form of a draft
// payload.
func DraftHash(cfg map[string]any) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode draft: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize draft: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Snapshot hashes the files an extension's build depends on: the entries
// matching build.watch, or the whole directory. Dependency folders, hidden
// entries and the build output are skipped.
func Snapshot(ext *extension.Instance) (string, error) {
	root := ext.Directory
	output := filepath.Clean(ext.OutputPath())
	hashes := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "dist") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || filepath.Clean(path) == output {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !watched(ext.Base.Build.Watch, rel) {
			return nil
		}
		sum, err := fileHash(path)
		if err != nil {
			return err
		}
		hashes[rel] = sum
		return nil
	})
	if err != nil {
		return "", err
	}

	files := make([]string, 0, len(hashes))
	for f := range hashes {
		files = append(files, f)
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s:%s\n", f, hashes[f])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func watched(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		p = filepath.ToSlash(strings.TrimPrefix(p, "./"))
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if strings.HasSuffix(p, "/**") && strings.HasPrefix(rel, strings.TrimSuffix(p, "**")) {
			return true
		}
	}
	return false
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
