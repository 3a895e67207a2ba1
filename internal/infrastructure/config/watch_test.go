package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

func TestWatcher_ReloadsAPIKeysOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  api_keys:\n    - first\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("new fsnotify watcher: %v", err)
	}
	if err := fsw.Add(path); err != nil {
		t.Fatalf("arm watch: %v", err)
	}
	w := &Watcher{
		apiKeys: []string{"first"},
		logger:  zap.NewNop(),
		fsw:     fsw,
		paths:   []string{path},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if got := w.APIKeys(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("expected initial key [first], got %v", got)
	}

	if err := os.WriteFile(path, []byte("auth:\n  api_keys:\n    - second\n    - third\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := w.APIKeys(); len(got) == 2 {
			if got[0] != "second" || got[1] != "third" {
				t.Fatalf("expected [second third], got %v", got)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("api keys were not reloaded within deadline, still %v", w.APIKeys())
}

func TestWatcher_MissingFilesDisableWatchWithoutError(t *testing.T) {
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer os.Chdir(old)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	os.Setenv("HOME", dir)

	w, err := NewWatcher(AuthConfig{APIKeys: []string{"only"}}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if len(w.paths) != 0 {
		t.Fatalf("expected no armed paths when neither config file exists, got %v", w.paths)
	}
	if got := w.APIKeys(); len(got) != 1 || got[0] != "only" {
		t.Fatalf("expected seeded keys preserved, got %v", got)
	}
}
