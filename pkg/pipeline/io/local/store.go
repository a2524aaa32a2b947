// Package local stores dataset outputs on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	pipelineio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io"
)

// Store reads raw files and replaces output directories on the local filesystem.
//
// An output location is a directory holding pipelineio.PartFileName and
// pipelineio.SuccessMarker. Replacing it is atomic for readers: the new
// directory is staged next to the target and renamed into place while an
// exclusive lock on "<parent>/.<name>.lock" is held.
type Store struct{}

func NewStore() *Store { return &Store{} }

var _ pipelineio.Store = (*Store)(nil)

// Read returns the file at path, or the part file when path is an output directory.
func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, pipelineio.PartFileName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// Replace writes data as the only part of the output directory at path.
func (s *Store) Replace(_ context.Context, path string, data []byte) error {
	path = filepath.Clean(path)
	parent, name := filepath.Split(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid output path %q", path)
	}
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create parent directory %s: %w", parent, err)
	}

	lock := flock.New(filepath.Join(parent, "."+name+".lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	staged, err := os.MkdirTemp(parent, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(staged)
	}()

	if err := writeSynced(filepath.Join(staged, pipelineio.PartFileName), data); err != nil {
		return err
	}
	if err := writeSynced(filepath.Join(staged, pipelineio.SuccessMarker), nil); err != nil {
		return err
	}
	if err := os.Chmod(staged, 0755); err != nil {
		return fmt.Errorf("set permissions on %s: %w", staged, err)
	}

	// Move the previous output aside first; rename cannot replace a non-empty directory.
	var previous string
	if _, err := os.Lstat(path); err == nil {
		previous = staged + ".old"
		if err := os.Rename(path, previous); err != nil {
			return fmt.Errorf("move previous output %s aside: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.Rename(staged, path); err != nil {
		if previous != "" {
			_ = os.Rename(previous, path)
		}
		return fmt.Errorf("rename staged output to %s: %w", path, err)
	}
	if previous != "" {
		if err := os.RemoveAll(previous); err != nil {
			return fmt.Errorf("remove previous output: %w", err)
		}
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}
