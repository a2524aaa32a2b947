// Package hdfs stores dataset outputs on HDFS.
package hdfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/colinmarc/hdfs/v2"

	pipelineio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io"
)

// FileSystem is the subset of HDFS operations the store needs.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	Stat(name string) (os.FileInfo, error)
	MkdirAll(dirname string, perm os.FileMode) error
	RemoveAll(name string) error
	Rename(oldpath, newpath string) error
	WriteFile(name string, data []byte) error
}

// Config selects the namenodes and user for a client.
type Config struct {
	Namenodes []string
	User      string
}

// Dial connects to the namenodes in cfg.
func Dial(cfg Config) (*ClientFS, error) {
	if len(cfg.Namenodes) == 0 {
		return nil, fmt.Errorf("hdfs: at least one namenode address is required")
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = os.Getenv("HADOOP_USER_NAME")
	}
	c, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: cfg.Namenodes,
		User:      user,
	})
	if err != nil {
		return nil, fmt.Errorf("hdfs: connect to %s: %w", strings.Join(cfg.Namenodes, ","), err)
	}
	return &ClientFS{Client: c}, nil
}

// ClientFS adapts *hdfs.Client to FileSystem.
type ClientFS struct {
	*hdfs.Client
}

func (c *ClientFS) WriteFile(name string, data []byte) error {
	w, err := c.Client.Create(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Store replaces output directories on HDFS. The layout matches the local
// store: a directory holding the part file and a success marker.
type Store struct {
	fs FileSystem
}

func NewStore(fs FileSystem) *Store {
	return &Store{fs: fs}
}

var _ pipelineio.Store = (*Store)(nil)

func (s *Store) Read(_ context.Context, name string) ([]byte, error) {
	info, err := s.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("hdfs read %s: %w", name, err)
	}
	if info.IsDir() {
		name = path.Join(name, pipelineio.PartFileName)
	}
	b, err := s.fs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("hdfs read %s: %w", name, err)
	}
	return b, nil
}

// Replace stages the output in a sibling directory, removes the previous
// output and renames the staged directory into place.
func (s *Store) Replace(_ context.Context, name string, data []byte) error {
	name = path.Clean(name)
	parent, base := path.Split(name)
	if base == "" || base == "." || base == "/" {
		return fmt.Errorf("invalid output path %q", name)
	}
	staged := path.Join(parent, "_temporary", base)

	if err := s.fs.RemoveAll(staged); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hdfs clear staging %s: %w", staged, err)
	}
	if err := s.fs.MkdirAll(staged, 0755); err != nil {
		return fmt.Errorf("hdfs mkdir %s: %w", staged, err)
	}
	if err := s.fs.WriteFile(path.Join(staged, pipelineio.PartFileName), data); err != nil {
		return fmt.Errorf("hdfs write part: %w", err)
	}
	if err := s.fs.WriteFile(path.Join(staged, pipelineio.SuccessMarker), nil); err != nil {
		return fmt.Errorf("hdfs write marker: %w", err)
	}

	if err := s.fs.RemoveAll(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hdfs remove previous output %s: %w", name, err)
	}
	if err := s.fs.Rename(staged, name); err != nil {
		return fmt.Errorf("hdfs rename %s to %s: %w", staged, name, err)
	}
	return nil
}
