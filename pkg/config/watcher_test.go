package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestWatcher_DebouncesWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	changes := make(chan []string, 4)
	w := NewWatcher(zerolog.Nop(), 50*time.Millisecond)
	if err := w.Watch(ctx, []string{dir}, func(changed []string) { changes <- changed }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	path := filepath.Join(dir, "r750.yaml")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("name: r750\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	// Ignored extension.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changes:
		if len(got) != 1 || got[0] != path {
			t.Errorf("changed = %v, want [%s]", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	select {
	case got := <-changes:
		t.Errorf("unexpected second reload: %v", got)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	w.Wait()
}

func TestWatcher_NoPaths(t *testing.T) {
	w := NewWatcher(zerolog.Nop(), 0)
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want %v", w.debounce, DefaultDebounce)
	}
	err := w.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, func([]string) {})
	if err == nil {
		t.Fatal("expected error for missing paths")
	}
}
