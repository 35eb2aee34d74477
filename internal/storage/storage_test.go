package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) (Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "sitepulse-storage-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	store, err := OpenDurable(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open durable store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func TestDurableSetGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if err := store.Set(Prefix+"session", `{"id":"abc"}`); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	value, ok, err := store.Get(Prefix + "session")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if !ok {
		t.Fatal("Expected key to exist")
	}
	if value != `{"id":"abc"}` {
		t.Errorf("Expected stored value, got %s", value)
	}
}

func TestDurableGetMissing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, ok, err := store.Get(Prefix + "nope")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected missing key")
	}
}

func TestDurableOverwrite(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if err := store.Set(Prefix+"user", "first"); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if err := store.Set(Prefix+"user", "second"); err != nil {
		t.Fatalf("Failed to overwrite: %v", err)
	}

	value, ok, _ := store.Get(Prefix + "user")
	if !ok || value != "second" {
		t.Errorf("Expected 'second', got %q (ok=%v)", value, ok)
	}
}

func TestDurableDelete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if err := store.Set(Prefix+"user", "u1"); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if err := store.Delete(Prefix + "user"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	_, ok, _ := store.Get(Prefix + "user")
	if ok {
		t.Error("Expected key to be gone")
	}
}

func TestDurableSurvivesReopen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sitepulse-storage-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	path := filepath.Join(tmpDir, "test.db")

	store, err := OpenDurable(path)
	if err != nil {
		t.Fatalf("Failed to open durable store: %v", err)
	}
	if err := store.Set(Prefix+"dimensions", `{"1":"a"}`); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	store.Close()

	reopened, err := OpenDurable(path)
	if err != nil {
		t.Fatalf("Failed to reopen durable store: %v", err)
	}
	defer reopened.Close()

	value, ok, _ := reopened.Get(Prefix + "dimensions")
	if !ok || value != `{"1":"a"}` {
		t.Errorf("Expected value to survive reopen, got %q (ok=%v)", value, ok)
	}
}

func TestOpenDurableDegradesToMemory(t *testing.T) {
	// A directory path is not a usable database file.
	tmpDir, err := os.MkdirTemp("", "sitepulse-storage-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := OpenDurable(tmpDir)
	if err == nil {
		t.Fatal("Expected error for unusable path")
	}
	if store == nil {
		t.Fatal("Expected fallback store, got nil")
	}

	// Degraded store still works for the page lifetime.
	if err := store.Set(Prefix+"session", "v"); err != nil {
		t.Fatalf("Fallback store Set failed: %v", err)
	}
	value, ok, _ := store.Get(Prefix + "session")
	if !ok || value != "v" {
		t.Errorf("Fallback store lost value, got %q (ok=%v)", value, ok)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()

	if err := store.Set("k", "v"); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	value, ok, _ := store.Get("k")
	if !ok || value != "v" {
		t.Errorf("Expected 'v', got %q (ok=%v)", value, ok)
	}

	if err := store.Delete("k"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, ok, _ := store.Get("k"); ok {
		t.Error("Expected key to be gone")
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
