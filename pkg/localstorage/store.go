// Package localstorage persists per-directory app information between CLI
// runs: the linked app, the selected configuration file and dev preferences.
package localstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// CachedAppInfo is the information remembered for one app directory.
type CachedAppInfo struct {
	Directory    string `json:"directory"`
	ConfigFile   string `json:"configFile,omitempty"`
	AppID        string `json:"appId,omitempty"`
	Title        string `json:"title,omitempty"`
	OrgID        string `json:"orgId,omitempty"`
	StoreFqdn    string `json:"storeFqdn,omitempty"`
	UpdateURLs   *bool  `json:"updateURLs,omitempty"`
	TunnelPlugin string `json:"tunnelPlugin,omitempty"`
}

// Store is the app information cache.
type Store interface {
	GetAppInfo(ctx context.Context, directory string) (*CachedAppInfo, error)
	SetAppInfo(ctx context.Context, info CachedAppInfo) error
	ClearAppInfo(ctx context.Context, directory string) error
	ClearAllAppInfo(ctx context.Context) error
	SetCurrentConfigFile(ctx context.Context, info CachedAppInfo) error
	ClearCurrentConfigFile(ctx context.Context, directory string) error
}

// Backend stores raw entries by normalised key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Cache implements Store over a Backend.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

var _ Store = (*Cache)(nil)

// New creates a cache over backend.
func New(backend Backend) *Cache {
	return &Cache{
		backend: backend,
		logger:  slog.Default().With("component", "localstorage"),
	}
}

// GetAppInfo returns the cached information for directory, or nil.
func (c *Cache) GetAppInfo(ctx context.Context, directory string) (*CachedAppInfo, error) {
	key := NormalizeKey(directory)
	c.logger.Debug("reading cached app information", "directory", key)
	return c.get(ctx, key)
}

// SetAppInfo stores info, merging it over what is already cached for the
// directory. Empty fields do not erase cached ones.
func (c *Cache) SetAppInfo(ctx context.Context, info CachedAppInfo) error {
	key := NormalizeKey(info.Directory)
	info.Directory = key
	c.logger.Debug("storing app information", "directory", key)

	saved, err := c.get(ctx, key)
	if err != nil {
		return err
	}
	if saved != nil {
		info = merge(*saved, info)
	}
	return c.put(ctx, key, info)
}

// ClearAppInfo forgets the directory.
func (c *Cache) ClearAppInfo(ctx context.Context, directory string) error {
	key := NormalizeKey(directory)
	c.logger.Debug("clearing app information", "directory", key)
	if err := c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear app info %s: %w", key, err)
	}
	return nil
}

// ClearAllAppInfo forgets every directory.
func (c *Cache) ClearAllAppInfo(ctx context.Context) error {
	c.logger.Debug("clearing all app information")
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear all app info: %w", err)
	}
	return nil
}

// SetCurrentConfigFile records the configuration file selected for a directory.
func (c *Cache) SetCurrentConfigFile(ctx context.Context, info CachedAppInfo) error {
	return c.SetAppInfo(ctx, info)
}

// ClearCurrentConfigFile drops the selected configuration file and keeps the
// rest of the entry.
func (c *Cache) ClearCurrentConfigFile(ctx context.Context, directory string) error {
	key := NormalizeKey(directory)
	saved, err := c.get(ctx, key)
	if err != nil {
		return err
	}
	info := CachedAppInfo{Directory: key}
	if saved != nil {
		info = *saved
	}
	info.ConfigFile = ""
	return c.put(ctx, key, info)
}

func (c *Cache) get(ctx context.Context, key string) (*CachedAppInfo, error) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read app info %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	var info CachedAppInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode app info %s: %w", key, err)
	}
	return &info, nil
}

func (c *Cache) put(ctx context.Context, key string, info CachedAppInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode app info %s: %w", key, err)
	}
	if err := c.backend.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("write app info %s: %w", key, err)
	}
	return nil
}

func merge(saved, update CachedAppInfo) CachedAppInfo {
	out := saved
	out.Directory = update.Directory
	if update.ConfigFile != "" {
		out.ConfigFile = update.ConfigFile
	}
	if update.AppID != "" {
		out.AppID = update.AppID
	}
	if update.Title != "" {
		out.Title = update.Title
	}
	if update.OrgID != "" {
		out.OrgID = update.OrgID
	}
	if update.StoreFqdn != "" {
		out.StoreFqdn = update.StoreFqdn
	}
	if update.UpdateURLs != nil {
		v := *update.UpdateURLs
		out.UpdateURLs = &v
	}
	if update.TunnelPlugin != "" {
		out.TunnelPlugin = update.TunnelPlugin
	}
	return out
}
