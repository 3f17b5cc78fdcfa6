package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/gridfill/internal/config"
)

func profileYAML(t *testing.T, name string) []byte {
	t.Helper()
	p, err := config.DefaultProfile()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join("..", "config", "profiles", "default.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return []byte(strings.Replace(string(raw), "name: "+p.Name, "name: "+name, 1))
}

func TestProfileWatcher_ReloadsValidProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.yaml")
	if err := os.WriteFile(path, profileYAML(t, "first"), 0o644); err != nil {
		t.Fatal(err)
	}

	applied := make(chan string, 4)
	pw, err := NewProfileWatcher(path, func(_ context.Context, p *config.Profile) error {
		applied <- p.Name
		return nil
	})
	if err != nil {
		t.Fatalf("NewProfileWatcher() error = %v", err)
	}
	pw.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go pw.Run(ctx)

	// A broken profile is ignored.
	time.Sleep(50 * time.Millisecond)
	os.WriteFile(path, []byte("version: 9\n"), 0o644)
	select {
	case name := <-applied:
		t.Fatalf("invalid profile applied: %q", name)
	case <-time.After(300 * time.Millisecond):
	}

	os.WriteFile(path, profileYAML(t, "second"), 0o644)
	select {
	case name := <-applied:
		if name != "second" {
			t.Errorf("applied %q, want second", name)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for reload")
	}
}

func TestProfileWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.yaml")
	os.WriteFile(path, profileYAML(t, "first"), 0o644)

	applied := make(chan string, 1)
	pw, err := NewProfileWatcher(path, func(_ context.Context, p *config.Profile) error {
		applied <- p.Name
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	pw.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pw.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	os.WriteFile(filepath.Join(dir, "other.yaml"), profileYAML(t, "other"), 0o644)

	select {
	case name := <-applied:
		t.Errorf("reloaded on unrelated file: %q", name)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewProfileWatcher_MissingDir(t *testing.T) {
	_, err := NewProfileWatcher(filepath.Join(t.TempDir(), "nope", "grid.yaml"), nil)
	if err == nil {
		t.Error("NewProfileWatcher() expected error for missing directory")
	}
}
