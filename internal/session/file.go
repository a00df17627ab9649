// ABOUTME: File-backed session backend storing the record as a JSON document
// ABOUTME: Writes go through a temp file and rename so a crash never leaves half a record

package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type fileBlob struct {
	path string
}

// NewFileStore returns a Store that persists the record to a JSON file.
// Parent directories are created if needed.
func NewFileStore(path string) (Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return newBlobStore(&fileBlob{path: path}, "session"), nil
}

func (f *fileBlob) load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *fileBlob) store(ctx context.Context, data []byte) error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (f *fileBlob) close() error {
	return nil
}
