package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// readFile returns the contents of path, or nil when the file does not exist.
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return b, nil
}

// writeFile replaces path with b. The bytes are synced to a sibling temp file
// first and renamed over the target, so readers see the old or the new
// contents and never a partial write.
func writeFile(path string, b []byte, mode os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(b); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err = f.Chmod(mode); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	if err = f.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrapf(os.Rename(tmp, path), "replace %s", path)
}
