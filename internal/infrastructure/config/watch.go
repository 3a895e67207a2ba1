package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/chatgw/gateway/pkg/safego"
)

// Watcher hot-reloads the auth section of the layered config files so an
// operator can rotate the gateway's own API keys without a restart.
// Account and provider edits still go through the store, never the file
// watcher — this only ever touches AuthConfig.
type Watcher struct {
	mu      sync.RWMutex
	apiKeys []string

	paths  []string
	fsw    *fsnotify.Watcher
	logger *zap.Logger
}

// NewWatcher builds a Watcher seeded with the already-loaded auth config
// and arms an fsnotify watch on every config path that exists on disk
// (the global ~/.chatgw/config.yaml and/or the project-local config.yaml).
func NewWatcher(initial AuthConfig, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		apiKeys: initial.APIKeys,
		fsw:     fsw,
		logger:  logger,
	}

	for _, p := range candidatePaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := fsw.Add(p); err != nil {
			logger.Warn("config watch: failed to arm watch", zap.String("path", p), zap.Error(err))
			continue
		}
		w.paths = append(w.paths, p)
	}
	return w, nil
}

// Start runs the watch loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	safego.Go(w.logger, "config-watcher", func() {
		for {
			select {
			case <-ctx.Done():
				w.fsw.Close()
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload(event.Name)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	})
}

// APIKeys returns the currently live API key list.
func (w *Watcher) APIKeys() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.apiKeys
}

func (w *Watcher) reload(path string) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		w.logger.Warn("config watcher: reload failed", zap.String("path", path), zap.Error(err))
		return
	}

	var auth AuthConfig
	if err := v.UnmarshalKey("auth", &auth); err != nil {
		w.logger.Warn("config watcher: unmarshal auth failed", zap.String("path", path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.apiKeys = auth.APIKeys
	w.mu.Unlock()

	w.logger.Info("config hot-reloaded", zap.String("path", path), zap.Int("api_keys", len(auth.APIKeys)))
}

func candidatePaths() []string {
	return []string{
		filepath.Join(os.Getenv("HOME"), ".chatgw", "config.yaml"),
		"./config.yaml",
	}
}
