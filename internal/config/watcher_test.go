package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
commands:
  routes:
    - path: /friends
      name: Friends
`

const watcherUpdatedYAML = `
server:
  log_level: debug
commands:
  routes:
    - path: /friends
      name: Friends
      aliases: [pals]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and moves the mtime forward so coarse filesystem
// timestamps still register a change.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	bump := time.Now().Add(time.Duration(len(content)) * time.Second)
	if err := os.Chtimes(path, bump, bump); err != nil {
		t.Fatalf("failed to touch file %q: %v", path, err)
	}
}

func startWatcher(t *testing.T, path string, onChange func(old, new *config.Config)) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w := startWatcher(t, cfgPath, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	type change struct{ old, new *config.Config }
	changes := make(chan change, 4)
	w := startWatcher(t, cfgPath, func(old, new *config.Config) {
		changes <- change{old, new}
	})

	writeFile(t, cfgPath, watcherUpdatedYAML)

	select {
	case c := <-changes:
		if c.old.Server.LogLevel != config.LogInfo {
			t.Errorf("old log_level = %q, want info", c.old.Server.LogLevel)
		}
		if c.new.Server.LogLevel != config.LogDebug {
			t.Errorf("new log_level = %q, want debug", c.new.Server.LogLevel)
		}
		d := config.Diff(c.old, c.new)
		if !d.LogLevelChanged || !d.CommandsChanged {
			t.Errorf("diff = %+v, want log level and commands changed", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current() does not reflect the reloaded config")
	}
}

func TestWatcher_IgnoresInvalidEdit(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	changes := make(chan *config.Config, 4)
	w := startWatcher(t, cfgPath, func(_, new *config.Config) { changes <- new })

	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(150 * time.Millisecond)
	select {
	case <-changes:
		t.Fatal("callback fired for an invalid config")
	default:
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("Current() changed after an invalid edit")
	}

	// A later valid edit still goes through.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	select {
	case cfg := <-changes:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recovery")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	changes := make(chan *config.Config, 4)
	startWatcher(t, cfgPath, func(_, new *config.Config) { changes <- new })

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(cfgPath, later, later); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	select {
	case <-changes:
		t.Fatal("callback fired although content is unchanged")
	default:
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	w.Stop()
	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var calls int
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) { calls++ })
	if err != nil {
		t.Fatal(err)
	}

	// Same mtime as the initial load; polling would skip this edit.
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte(watcherUpdatedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(cfgPath, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if calls != 1 || w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("calls = %d, log_level = %q", calls, w.Current().Server.LogLevel)
	}
	if err := w.Reload(); err != nil || calls != 1 {
		t.Errorf("unchanged reload: err = %v, calls = %d", err, calls)
	}

	writeFile(t, cfgPath, watcherInvalidYAML)
	if err := w.Reload(); err == nil {
		t.Error("Reload accepted an invalid file")
	}
	if calls != 1 || w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("invalid reload changed state: calls = %d", calls)
	}
}
