// Package toolchain installs the function compiler toolchain once per
// process, however many builds ask for it concurrently.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"
)

// BinaryName is the file name of the installed toolchain binary.
const BinaryName = "wasm-toolchain"

// Fetcher downloads a toolchain release to dst.
type Fetcher interface {
	Fetch(ctx context.Context, version *semver.Version, dst io.Writer) error
}

// HTTPFetcher downloads <BaseURL>/v<version>/<BinaryName>.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, version *semver.Version, dst io.Writer) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := fmt.Sprintf("%s/v%s/%s", f.BaseURL, version.String(), BinaryName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download toolchain: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download toolchain %s: status %d", version, resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("download toolchain %s: %w", version, err)
	}
	return nil
}

// Installer makes sure a compatible toolchain is present in its directory.
type Installer struct {
	dir        string
	version    *semver.Version
	constraint *semver.Constraints
	fetcher    Fetcher
	logger     *slog.Logger

	mu   sync.Mutex
	sf   singleflight.Group
	done bool
	path string
}

// NewInstaller creates an installer for version under dir. Any installed
// release compatible with ^version is reused.
func NewInstaller(dir, version string, fetcher Fetcher) (*Installer, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("toolchain version %q: %w", version, err)
	}
	c, err := semver.NewConstraint("^" + v.String())
	if err != nil {
		return nil, fmt.Errorf("toolchain constraint: %w", err)
	}
	return &Installer{
		dir:        dir,
		version:    v,
		constraint: c,
		fetcher:    fetcher,
		logger:     slog.Default().With("component", "toolchain"),
	}, nil
}

// Ensure installs the toolchain on first use. Concurrent callers share one
// install; later callers return immediately.
func (i *Installer) Ensure(ctx context.Context) error {
	i.mu.Lock()
	if i.done {
		i.mu.Unlock()
		return nil
	}
	i.mu.Unlock()

	_, err, _ := i.sf.Do("install", func() (any, error) {
		path, err := i.install(ctx)
		if err != nil {
			return nil, err
		}
		i.mu.Lock()
		i.done = true
		i.path = path
		i.mu.Unlock()
		return nil, nil
	})
	return err
}

// BinaryPath is the path of the toolchain in use, empty before Ensure.
func (i *Installer) BinaryPath() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.path
}

// InstalledVersions lists the releases present in the directory, newest first.
func (i *Installer) InstalledVersions() ([]*semver.Version, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []*semver.Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := semver.NewVersion(e.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(i.dir, e.Name(), BinaryName)); err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(a, b int) bool { return out[b].LessThan(out[a]) })
	return out, nil
}

func (i *Installer) binaryPath(v *semver.Version) string {
	return filepath.Join(i.dir, "v"+v.String(), BinaryName)
}

func (i *Installer) install(ctx context.Context) (string, error) {
	installed, err := i.InstalledVersions()
	if err != nil {
		return "", fmt.Errorf("scan toolchain directory: %w", err)
	}
	for _, v := range installed {
		if i.constraint.Check(v) {
			path := i.binaryPath(v)
			i.logger.Debug("toolchain already installed", "version", v.String(), "path", path)
			return path, nil
		}
	}

	if i.fetcher == nil {
		return "", fmt.Errorf("toolchain %s is not installed and no fetcher is configured", i.version)
	}

	path := i.binaryPath(i.version)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create toolchain directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return "", fmt.Errorf("create toolchain download: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	i.logger.Info("installing toolchain", "version", i.version.String())
	if err := i.fetcher.Fetch(ctx, i.version, tmp); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close toolchain download: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return "", fmt.Errorf("chmod toolchain: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("install toolchain: %w", err)
	}
	return path, nil
}
