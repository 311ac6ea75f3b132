package nodespec

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnManifestWrite(t *testing.T) {
	tmpDir := t.TempDir()

	registry := NewRegistry(tmpDir, slog.Default())
	if err := registry.Discover(); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if registry.Count() != 0 {
		t.Fatalf("Expected empty registry, got %d", registry.Count())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcherDone := make(chan error, 1)
	watcher := NewWatcher(registry, 50*time.Millisecond, slog.Default())
	go func() {
		watcherDone <- watcher.Run(ctx)
	}()

	// Give the watcher time to register before mutating the directory.
	time.Sleep(200 * time.Millisecond)

	writeManifest(t, tmpDir, "vad", `
name: vad
version: 1.0.0
`)

	deadline := time.Now().Add(5 * time.Second)
	for registry.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Registry was not reloaded after manifest write")
		}
		time.Sleep(25 * time.Millisecond)
	}

	if _, ok := registry.Get("vad"); !ok {
		t.Error("Expected 'vad' node type after reload")
	}

	cancel()
	select {
	case err := <-watcherDone:
		if err != nil {
			t.Errorf("Watcher returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watcher did not stop after cancel")
	}
}
