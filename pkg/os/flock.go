package os

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Flock struct {
	f *flock.Flock
}

// NewFileLock makes a lock file guarding the file at path.
// The lock lives next to it with the .lock suffix.
func NewFileLock(path string) (*Flock, error) {
	lockPath := path + ".lock"
	if path == "" {
		lockPath = filepath.Join(os.TempDir(), "depthstream.lock")
	}
	if err := CheckCreateDir(filepath.Dir(lockPath)); err != nil {
		return nil, err
	}
	return &Flock{f: flock.New(lockPath)}, nil
}

// TryLock takes the lock without waiting.
func (f *Flock) TryLock() error {
	ok, err := f.f.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%v is locked by another process", f.f.Path())
	}
	return nil
}

func (f *Flock) Unlock() error { return f.f.Unlock() }

func (f *Flock) Path() string { return f.f.Path() }
