package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ScanOptions mirror the construction options of New. Empty fields keep the
// defaults of New, except ProjectDir: an empty ProjectDir means the working
// directory.
type ScanOptions struct {
	RawFolder         string
	ScriptFolder      string
	ProjectDir        string
	DistributedRoot   string
	DistributedScheme string
	Logger            *zap.Logger
}

func (o ScanOptions) options() []Option {
	project := InWorkingDir()
	if o.ProjectDir != "" {
		project = WithProjectDir(o.ProjectDir)
	}
	return []Option{
		WithRawFolder(o.RawFolder),
		WithScriptFolder(o.ScriptFolder),
		project,
		WithDistributedRoot(o.DistributedRoot),
		WithDistributedScheme(o.DistributedScheme),
		WithLogger(o.Logger),
	}
}

// RawDir is the directory Scan lists for these options.
func (o ScanOptions) RawDir() string {
	s := newSettings(o.options())
	return ResolveDir(s.projectDir, s.rawFolder)
}

// Scan lists the raw directory (not recursively) and builds one dataset per
// regular "<name>.txt" file. An empty directory gives an empty set; a missing
// one is an error.
func Scan(ctx context.Context, opts ScanOptions) (*Set, error) {
	dir := opts.RawDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan raw folder %s: %w", dir, err)
	}

	set := NewSet()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, ok := strings.CutSuffix(e.Name(), InputExt)
		if !ok || name == "" || !isRegular(dir, e) {
			continue
		}
		d, err := New(name, opts.options()...)
		if err != nil {
			return nil, err
		}
		set.Add(d)
	}
	return set, nil
}

// isRegular reports whether e is a regular file, following symlinks.
func isRegular(dir string, e os.DirEntry) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.Mode().IsRegular()
}
