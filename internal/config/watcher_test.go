package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/consultvox/internal/config"
)

func writeConfig(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type changeLog struct {
	mu      sync.Mutex
	changes [][2]*config.Config
}

func (c *changeLog) record(old, new *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, [2]*config.Config{old, new})
}

func (c *changeLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeConfig(t, path, "server:\n  log_level: info\n", base)

	var changes changeLog
	w, err := config.NewWatcher(path, changes.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Fatalf("initial log level = %q", w.Current().Server.LogLevel)
	}

	// Unchanged file.
	w.Check()
	if changes.count() != 0 {
		t.Fatal("change reported for untouched file")
	}

	// Touched but identical content.
	writeConfig(t, path, "server:\n  log_level: info\n", base.Add(time.Second))
	w.Check()
	if changes.count() != 0 {
		t.Fatal("change reported for identical content")
	}

	// Invalid content keeps the previous config.
	writeConfig(t, path, "server:\n  log_level: bananas\n", base.Add(2*time.Second))
	w.Check()
	if changes.count() != 0 || w.Current().Server.LogLevel != config.LogInfo {
		t.Fatal("invalid config replaced the current one")
	}

	writeConfig(t, path, "server:\n  log_level: debug\n", base.Add(3*time.Second))
	w.Check()
	if changes.count() != 1 {
		t.Fatalf("changes = %d, want 1", changes.count())
	}
	got := changes.changes[0]
	if got[0].Server.LogLevel != config.LogInfo || got[1].Server.LogLevel != config.LogDebug {
		t.Errorf("change = %q -> %q", got[0].Server.LogLevel, got[1].Server.LogLevel)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("current log level = %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidInitialConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: bananas\n", time.Now())
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher accepted an invalid config")
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeConfig(t, path, "vad:\n  silence_duration: 2s\n", base)

	var changes changeLog
	w, err := config.NewWatcher(path, changes.record, config.WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, path, "vad:\n  silence_duration: 3s\n", base.Add(time.Second))
	deadline := time.Now().Add(2 * time.Second)
	for changes.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("change never detected")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	if w.Current().VAD.SilenceDuration != 3*time.Second {
		t.Errorf("silence = %v", w.Current().VAD.SilenceDuration)
	}
}
