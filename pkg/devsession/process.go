package devsession

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/appdev/pkg/appconfig"
	"github.com/Mindburn-Labs/appdev/pkg/extension"
	"github.com/Mindburn-Labs/appdev/pkg/observability"
	"github.com/Mindburn-Labs/appdev/pkg/remote"
)

// FailurePolicy decides what a pipeline failure does to its siblings.
type FailurePolicy int

const (
	// AbortOnFailure cancels every pipeline on the first failure and stops
	// the watchers already started.
	AbortOnFailure FailurePolicy = iota
	// IsolateFailures keeps healthy pipelines running.
	IsolateFailures
)

func (p FailurePolicy) String() string {
	if p == IsolateFailures {
		return "isolate"
	}
	return "abort"
}

// State is the lifecycle state of a Run.
type State int

const (
	StateIdle State = iota
	StateSessionOpening
	StateFanningOut
	StateActive
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSessionOpening:
		return "session-opening"
	case StateFanningOut:
		return "fanning-out"
	case StateActive:
		return "active"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FanOutError reports the extensions whose pipeline failed.
type FanOutError struct {
	// Failures maps local identifiers to their pipeline error.
	Failures map[string]error
	// Stopped lists the extensions cancelled because a sibling failed.
	Stopped []string
	Total   int
}

func (e *FanOutError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s: %v", id, e.Failures[id])
	}
	msg := fmt.Sprintf("%d of %d extensions failed: %s", len(ids), e.Total, strings.Join(parts, "; "))
	if len(e.Stopped) > 0 {
		msg += fmt.Sprintf(" (stopped: %s)", strings.Join(e.Stopped, ", "))
	}
	return msg
}

// Unwrap exposes every pipeline error to errors.Is and errors.As.
func (e *FanOutError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

// Run is a started dev process.
type Run struct {
	// Session is the dev session opened for the run.
	Session *remote.DevSessionApp

	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	results  map[string]error
	watchers []Watcher
}

func newRun() *Run {
	return &Run{state: StateIdle, results: make(map[string]error)}
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Results returns the outcome of every pipeline keyed by local identifier.
// A nil error means the extension's watcher is running.
func (r *Run) Results() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]error, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}

func (r *Run) record(id string, w Watcher, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[id] = err
	if w != nil {
		r.watchers = append(r.watchers, w)
	}
}

// Wait blocks until every watcher has stopped. Watchers stop when the
// context given to Process.Run is cancelled.
func (r *Run) Wait() {
	r.mu.Lock()
	watchers := append([]Watcher(nil), r.watchers...)
	r.mu.Unlock()
	for _, w := range watchers {
		<-w.Done()
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// Run installs the toolchain, opens the dev session and fans out one
// pipeline per extension: build, look up the registration, push the first
// draft, start the watcher. It returns once every pipeline has either started
// its watcher or failed. On failure the Run is returned with the error so
// per-extension results stay inspectable.
func (p *Process) Run(ctx context.Context) (*Run, error) {
	o := p.Options
	deps := o.Deps.withDefaults()
	run := newRun()

	ctx, done := deps.Telemetry.TrackOperation(ctx, "devsession.run",
		observability.App(o.APIKey, appName(o), len(o.Extensions))...)
	var runErr error
	defer func() { done(runErr) }()

	run.setState(StateSessionOpening)
	if err := deps.Toolchain.Ensure(ctx); err != nil {
		run.setState(StateAborted)
		runErr = fmt.Errorf("install toolchain: %w", err)
		return run, runErr
	}

	var scopes []string
	if o.App != nil {
		scopes = appconfig.ScopesArray(o.App.Configuration)
	}
	session, err := deps.Sessions.CreateDevSession(ctx, remote.DevSessionCreateInput{
		Title:          SessionTitle,
		Scopes:         scopes,
		ApplicationURL: o.ProxyURL,
	})
	if err != nil {
		run.setState(StateAborted)
		runErr = fmt.Errorf("create dev session: %w", err)
		return run, runErr
	}
	run.Session = session
	deps.Logger.Info("dev session created", "app", session.ID, "extensions", len(o.Extensions))

	run.setState(StateFanningOut)
	fanCtx, cancel := context.WithCancel(ctx)
	run.cancel = cancel

	var wg sync.WaitGroup
	for _, ext := range o.Extensions {
		wg.Add(1)
		go func(ext *extension.Instance) {
			defer wg.Done()
			w, err := p.pipeline(fanCtx, deps, ext)
			run.record(ext.LocalIdentifier, w, err)
			if err != nil {
				deps.Logger.Error("extension pipeline failed", "extension", ext.LocalIdentifier, "error", err)
				if o.Policy == AbortOnFailure {
					cancel()
				}
			}
		}(ext)
	}
	wg.Wait()

	failures := make(map[string]error)
	var stopped []string
	for id, err := range run.Results() {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) && ctx.Err() == nil:
			// Only an aborting sibling cancels the fan-out while ctx is live.
			stopped = append(stopped, id)
		default:
			failures[id] = err
		}
	}
	sort.Strings(stopped)

	if len(failures) > 0 && (o.Policy == AbortOnFailure || len(failures)+len(stopped) == len(o.Extensions)) {
		cancel()
		run.Wait()
		run.setState(StateAborted)
		runErr = &FanOutError{Failures: failures, Stopped: stopped, Total: len(o.Extensions)}
		return run, runErr
	}

	run.setState(StateActive)
	go func() {
		<-fanCtx.Done()
		run.setState(StateAborted)
	}()
	return run, nil
}

func (p *Process) pipeline(ctx context.Context, deps Dependencies, ext *extension.Instance) (w Watcher, err error) {
	o := p.Options
	ctx, done := deps.Telemetry.TrackOperation(ctx, "devsession.extension", observability.Extension(ext.Handle, ext.Type())...)
	defer func() { done(err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := deps.Builder.Build(ctx, ext); err != nil {
		if deps.Notifier != nil {
			deps.Notifier.NotifyUpdate(ext, err)
		}
		return nil, fmt.Errorf("build %s: %w", ext.LocalIdentifier, err)
	}

	registrationID := o.RemoteExtensionIDs[ext.LocalIdentifier]
	if registrationID == "" {
		return nil, fmt.Errorf("%w: %s", ErrRegistrationNotFound, ext.LocalIdentifier)
	}

	if err := deps.Drafts.UpdateExtensionDraft(ctx, remote.DraftInput{
		Extension:      ext,
		Token:          o.Token,
		APIKey:         o.APIKey,
		RegistrationID: registrationID,
	}); err != nil {
		return nil, fmt.Errorf("push draft for %s: %w", ext.LocalIdentifier, err)
	}
	if deps.Notifier != nil {
		deps.Notifier.NotifyUpdate(ext, nil)
	}

	w, err = deps.Watchers.StartWatcher(ctx, WatchOptions{
		Extension:      ext,
		App:            o.App,
		URL:            o.ProxyURL,
		Token:          o.Token,
		APIKey:         o.APIKey,
		RegistrationID: registrationID,
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", ext.LocalIdentifier, err)
	}
	return w, nil
}

func appName(o ProcessOptions) string {
	if o.App == nil {
		return ""
	}
	return o.App.Name
}

// IsConfigurationError reports whether err comes from a rejected request
// (remote user errors) rather than a transient failure.
func IsConfigurationError(err error) bool {
	var ue *remote.UserErrors
	return errors.As(err, &ue)
}
