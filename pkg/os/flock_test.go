package os

import (
	"path/filepath"
	"testing"
)

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "output.hevc")

	a, err := NewFileLock(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFileLock(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.TryLock(); err != nil {
		t.Fatalf("first lock should succeed, %v", err)
	}
	if err := b.TryLock(); err == nil {
		t.Errorf("second lock should fail while the first one is held")
	}
	if err := a.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := b.TryLock(); err != nil {
		t.Errorf("lock should be free after unlock, %v", err)
	}
	_ = b.Unlock()
}

func TestCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.bin")
	f, err := CreateFile(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	if !Exists(path) {
		t.Errorf("%v should exist", path)
	}
}
