package limits

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gemshare/gemshare/pkg/logging"
	"github.com/gemshare/gemshare/pkg/models"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)

	if err := os.WriteFile(path, []byte("1\npodA 0.2 0.8 30 1024\n"), 0644); err != nil {
		t.Fatalf("Failed to write limit file: %v", err)
	}

	applied := make(chan []models.ClientLimit, 4)
	log := logging.NewLogger(logging.ERROR, false)

	w, err := NewWatcher(path, log, func(entries []models.ClientLimit) {
		applied <- entries
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	// Rewrite the file and expect a reload with the new contents
	if err := os.WriteFile(path, []byte("2\npodA 0.3 0.9 30 1024\npodB 0.1 0.5 20 2048\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite limit file: %v", err)
	}

	select {
	case entries := <-applied:
		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries after reload, got %d", len(entries))
		}
		if entries[0].Name != "podA" || entries[0].MinFraction != 0.3 {
			t.Errorf("Unexpected reloaded entry: %+v", entries[0])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

func TestWatcherSkipsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)

	if err := os.WriteFile(path, []byte("1\npodA 0.2 0.8 30 1024\n"), 0644); err != nil {
		t.Fatalf("Failed to write limit file: %v", err)
	}

	applied := make(chan []models.ClientLimit, 4)
	log := logging.NewLogger(logging.ERROR, false)

	w, err := NewWatcher(path, log, func(entries []models.ClientLimit) {
		applied <- entries
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	// Garbage first: the reload must be skipped, previous entries stay live
	if err := os.WriteFile(path, []byte("not a limit file"), 0644); err != nil {
		t.Fatalf("Failed to write garbage: %v", err)
	}
	// Then a good rewrite: the next apply we see must carry this content
	if err := os.WriteFile(path, []byte("1\npodB 0.4 0.6 10 4096\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite limit file: %v", err)
	}

	select {
	case entries := <-applied:
		if len(entries) != 1 || entries[0].Name != "podB" {
			t.Fatalf("Expected the valid rewrite only, got %+v", entries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)

	if err := os.WriteFile(path, []byte("1\npodA 0.2 0.8 30 1024\n"), 0644); err != nil {
		t.Fatalf("Failed to write limit file: %v", err)
	}

	applied := make(chan []models.ClientLimit, 4)
	log := logging.NewLogger(logging.ERROR, false)

	w, err := NewWatcher(path, log, func(entries []models.ClientLimit) {
		applied <- entries
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	// A sibling file changing must not trigger a reload; the target file
	// changing afterwards must, and must be the first apply we observe.
	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("noise"), 0644); err != nil {
		t.Fatalf("Failed to write sibling file: %v", err)
	}
	if err := os.WriteFile(path, []byte("1\npodC 0.1 0.2 5 512\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite limit file: %v", err)
	}

	select {
	case entries := <-applied:
		if len(entries) != 1 || entries[0].Name != "podC" {
			t.Fatalf("Expected reload from target file only, got %+v", entries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
