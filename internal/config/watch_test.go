package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnFileChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  ttl:\n    courseSeconds: 600\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader("", path)
	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)

	watcher, err := loader.Watch(ctx, func(cfg Config) {
		changeCh <- cfg
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("cache:\n  ttl:\n    courseSeconds: 42\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case cfg := <-changeCh:
			// A reload may observe the truncated file before the new contents land.
			if cfg.Cache.TTL.CourseSeconds == 42 {
				return
			}
		case err := <-errCh:
			t.Fatalf("unexpected error: %v", err)
		case <-deadline:
			t.Fatal("timeout waiting for reload")
		}
	}
}

func TestWatchReportsInvalidConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  backend: memory\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader("", path)
	errCh := make(chan error, 4)
	watcher, err := loader.Watch(ctx, func(Config) {}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("cache:\n  backend: memcached\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected validation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for validation error")
	}
}

func TestWatchRequiresFiles(t *testing.T) {
	if _, err := NewLoader("").Watch(context.Background(), func(Config) {}, nil); err == nil {
		t.Fatal("expected error when no files configured")
	}
	if _, err := NewLoader("", "server.yaml").Watch(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error when callback missing")
	}
}

func TestFileWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	watcher, err := NewLoader("", path).Watch(context.Background(), func(Config) {}, nil)
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	watcher.Stop()
	watcher.Stop()

	var nilWatcher *FileWatcher
	nilWatcher.Stop()
}
