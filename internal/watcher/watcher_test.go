package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return w
}

func waitBatch(t *testing.T, w *Watcher) Batch {
	t.Helper()
	select {
	case b := <-w.Batches():
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	return Batch{}
}

func isAudio(path string) bool {
	return strings.HasSuffix(path, ".mp3")
}

func TestWatcherMultipleRoots(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	w := startWatcher(t, Options{Roots: []string{rootA, rootB}, DebounceMs: 50, Relevant: isAudio})

	os.WriteFile(filepath.Join(rootA, "one.mp3"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(rootB, "two.mp3"), []byte("x"), 0o644)

	seen := map[string]bool{}
	for len(seen) < 2 {
		for _, p := range waitBatch(t, w).Paths() {
			seen[filepath.Base(p)] = true
		}
	}
	if !seen["one.mp3"] || !seen["two.mp3"] {
		t.Errorf("expected changes from both roots, got %v", seen)
	}
}

func TestWatcherSkipsIrrelevantFiles(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, Options{Roots: []string{root}, DebounceMs: 50, Relevant: isAudio})

	os.WriteFile(filepath.Join(root, "cover.jpg"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "song.mp3"), []byte("x"), 0o644)

	b := waitBatch(t, w)
	for _, p := range b.Paths() {
		if strings.HasSuffix(p, ".jpg") {
			t.Errorf("irrelevant file reported: %s", p)
		}
	}
	if _, ok := kindOf(b, filepath.Join(root, "song.mp3")); !ok {
		t.Errorf("expected absolute song path in batch, got %v", b.Paths())
	}
}

func TestWatcherIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, ".trash"), 0o755)
	w := startWatcher(t, Options{Roots: []string{root}, DebounceMs: 50, IgnorePatterns: []string{".trash"}, Relevant: isAudio})

	os.WriteFile(filepath.Join(root, ".trash", "gone.mp3"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "kept.mp3"), []byte("x"), 0o644)

	b := waitBatch(t, w)
	for _, p := range b.Paths() {
		if strings.Contains(p, ".trash") {
			t.Errorf("ignored path reported: %s", p)
		}
	}
}

func TestWatcherNewDirectory(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, Options{Roots: []string{root}, DebounceMs: 50, Relevant: isAudio})

	album := filepath.Join(root, "album")
	if err := os.Mkdir(album, 0o755); err != nil {
		t.Fatal(err)
	}
	waitBatch(t, w)

	os.WriteFile(filepath.Join(album, "track.mp3"), []byte("x"), 0o644)
	b := waitBatch(t, w)
	if _, ok := kindOf(b, filepath.Join(album, "track.mp3")); !ok {
		t.Errorf("expected file in new directory to be watched, got %v", b.Paths())
	}
}
