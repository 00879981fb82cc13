// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherDetectsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	watcher, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) {
		changes <- cfg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	assert.Equal(t, "info", watcher.Config().Log.Level)

	writeFile(t, path, "log:\n  level: debug\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for config change")
	}
	assert.Equal(t, "debug", watcher.Config().Log.Level)
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "monitor:\n  capacity: 10\n")

	watcher, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	watcher.Start(context.Background())
	defer watcher.Stop()

	writeFile(t, path, "monitor:\n  capacity: 0\n")

	select {
	case <-changes:
		t.Fatal("invalid config must not be published")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, 10, watcher.Config().Monitor.Capacity)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	watcher, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })
	watcher.Start(context.Background())
	defer watcher.Stop()

	writeFile(t, filepath.Join(dir, "unrelated.yaml"), "x: 1\n")

	select {
	case <-changes:
		t.Fatal("unrelated file must not trigger reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	watcher, err := NewWatcher(path)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		watcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}

func TestReloadableConfig(t *testing.T) {
	cfg := Default()
	rc := NewReloadableConfig(cfg)
	assert.Same(t, cfg, rc.Get())

	next := Default()
	next.Log.Level = "error"
	rc.Update(next)
	assert.Equal(t, "error", rc.Log().Level)
}
