// Package dataset models one raw input file moving through
// extract, transform and load, and the deduplicated set of datasets found in
// a raw folder.
package dataset

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/engine"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/transform"
)

const (
	DefaultRawFolder    = "data/"
	DefaultScriptFolder = "scripts/"
	// DefaultProjectDir applies to New only. Scan and the CLI default to the
	// working directory.
	DefaultProjectDir        = "/tmp/ETL/"
	DefaultDistributedRoot   = "/data_out/"
	DefaultDistributedScheme = "hdfs"

	// OutputFolder is created under the project dir for local outputs.
	OutputFolder = "data_output/"
	// ScriptExt is the file extension of transformation scripts.
	ScriptExt = ".yaml"
	// InputExt is the file extension of raw input files.
	InputExt = ".txt"
)

// Delimited is the raw and output text format: pipe-separated with a header row.
var Delimited = table.DelimitedOptions{Sep: '|', Header: true}

type settings struct {
	rawFolder         string
	scriptFolder      string
	projectDir        string
	distributedRoot   string
	distributedScheme string
	logger            *zap.Logger
}

// Option overrides one construction default. Empty strings keep the default.
type Option func(*settings)

func WithRawFolder(folder string) Option {
	return func(s *settings) { setIf(&s.rawFolder, folder) }
}

func WithScriptFolder(folder string) Option {
	return func(s *settings) { setIf(&s.scriptFolder, folder) }
}

func WithProjectDir(dir string) Option {
	return func(s *settings) { setIf(&s.projectDir, dir) }
}

// InWorkingDir clears the project dir so relative folders and the local
// output resolve against the process working directory.
func InWorkingDir() Option {
	return func(s *settings) { s.projectDir = "" }
}

func WithDistributedRoot(dir string) Option {
	return func(s *settings) { setIf(&s.distributedRoot, dir) }
}

// WithDistributedScheme selects the store for distributed outputs ("hdfs" or "foundry").
func WithDistributedScheme(scheme string) Option {
	return func(s *settings) { setIf(&s.distributedScheme, strings.ToLower(scheme)) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func setIf(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		rawFolder:         DefaultRawFolder,
		scriptFolder:      DefaultScriptFolder,
		projectDir:        DefaultProjectDir,
		distributedRoot:   DefaultDistributedRoot,
		distributedScheme: DefaultDistributedScheme,
		logger:            zap.NewNop(),
	}
	for _, o := range opts {
		o(&s)
	}
	s.projectDir = WithSlash(s.projectDir)
	s.distributedRoot = WithSlash(s.distributedRoot)
	return s
}

// WithSlash appends "/" to dir unless it already ends with one.
func WithSlash(dir string) string {
	if dir == "" || strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// ResolveDir returns folder itself when it is absolute, else projectDir+folder.
// Both results end with "/".
func ResolveDir(projectDir, folder string) string {
	folder = WithSlash(folder)
	if strings.HasPrefix(folder, "/") {
		return folder
	}
	return WithSlash(projectDir) + folder
}

// Dataset is one raw input file and the table derived from it.
//
// A Dataset is not safe for concurrent use; the pipeline gives each dataset
// to exactly one worker.
type Dataset struct {
	Name       string
	ProjectDir string
	RawDir     string
	ScriptDir  string

	InputFilePath         string
	TransformScriptPath   string
	OutputLocalPath       string
	OutputDistributedPath string

	table  *table.Table
	logger *zap.Logger
}

// New computes every path of the dataset called name. It touches no files.
func New(name string, opts ...Option) (*Dataset, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("dataset name is required")
	}
	s := newSettings(opts)

	d := &Dataset{
		Name:       name,
		ProjectDir: s.projectDir,
		RawDir:     ResolveDir(s.projectDir, s.rawFolder),
		ScriptDir:  ResolveDir(s.projectDir, s.scriptFolder),
		logger:     s.logger.With(zap.String("dataset", name)),
	}
	d.InputFilePath = "file:" + d.RawDir + name + InputExt
	d.TransformScriptPath = d.ScriptDir + name + ScriptExt
	d.OutputLocalPath = "file:" + d.ProjectDir + OutputFolder + name
	d.OutputDistributedPath = s.distributedScheme + ":" + s.distributedRoot + name

	d.logger.Info("dataset created", zap.String("input", d.InputFilePath))
	return d, nil
}

func (d *Dataset) String() string {
	return d.Name + " (" + d.InputFilePath + ")"
}

// Table returns the current table, or nil before a successful Extract.
func (d *Dataset) Table() *table.Table { return d.table }

// Ref is the identity handed to transformation procedures.
func (d *Dataset) Ref() core.DatasetRef {
	return core.DatasetRef{
		Name:       d.Name,
		InputPath:  d.InputFilePath,
		ScriptPath: d.TransformScriptPath,
	}
}

// HashKey is the bucket key used by Set. Equal datasets share a key; datasets
// sharing a key are not necessarily equal.
func (d *Dataset) HashKey() string { return d.Name }

// Equal reports whether other is a *Dataset with the same input file path.
// ok is false when other is not a *Dataset and the comparison does not apply.
func (d *Dataset) Equal(other any) (equal, ok bool) {
	o, isDataset := other.(*Dataset)
	if !isDataset || o == nil || d == nil {
		return false, false
	}
	return d.InputFilePath == o.InputFilePath, true
}

func (d *Dataset) fail(stage core.Stage, kind, err error) error {
	return &core.StageError{Dataset: d.Name, Stage: stage, Kind: kind, Err: err}
}

// Extract reads the input file as pipe-delimited text with a header row.
// It returns d so calls can be chained.
func (d *Dataset) Extract(ctx context.Context, eng engine.Reader) (*Dataset, error) {
	d.logger.Info("extract start", zap.String("input", d.InputFilePath))
	t, err := eng.Read(ctx, d.InputFilePath, Delimited)
	if err != nil {
		return d, d.fail(core.StageExtract, core.ErrMissingInput, err)
	}
	d.table = t
	d.logger.Info("extract done", zap.Int("rows", t.NumRows()), zap.Int("columns", len(t.Columns())))
	return d, nil
}

// Transform lowercases every column name and then applies the dataset's
// procedure from src, replacing the table with the result.
func (d *Dataset) Transform(ctx context.Context, src transform.Source) error {
	if d.table == nil {
		return d.fail(core.StageTransform, core.ErrNoTable, fmt.Errorf("transform before extract"))
	}
	d.logger.Info("transform start", zap.String("script", d.TransformScriptPath))

	t := d.table
	for _, c := range t.Columns() {
		t = t.WithColumnRenamed(c, strings.ToLower(c))
	}
	d.table = t

	ref := d.Ref()
	proc, err := src.Resolve(ctx, ref)
	if err != nil {
		kind := core.KindOf(err)
		if kind == nil {
			kind = core.ErrMissingScript
		}
		return d.fail(core.StageTransform, kind, err)
	}
	out, err := proc.Apply(ctx, ref, t)
	if err != nil {
		return d.fail(core.StageTransform, core.ErrTransformation, err)
	}
	if out == nil {
		return d.fail(core.StageTransform, core.ErrTransformation, fmt.Errorf("procedure returned no table"))
	}
	d.table = out
	d.logger.Info("transform done", zap.Int("rows", out.NumRows()), zap.Strings("columns", out.Columns()))
	return nil
}

// Destination returns the output location for the given target.
func (d *Dataset) Destination(toDistributed bool) string {
	if toDistributed {
		return d.OutputDistributedPath
	}
	return d.OutputLocalPath
}

// Load writes the table to the local or distributed destination, replacing
// whatever is there. A cancelled ctx stops Load before it writes; once the
// write has started it runs to completion.
func (d *Dataset) Load(ctx context.Context, eng engine.Writer, toDistributed bool) error {
	if d.table == nil {
		return d.fail(core.StageLoad, core.ErrNoTable, fmt.Errorf("load before extract"))
	}
	if err := ctx.Err(); err != nil {
		return d.fail(core.StageLoad, nil, err)
	}
	dest := d.Destination(toDistributed)
	d.logger.Info("load start", zap.String("destination", dest))

	err := eng.Write(context.WithoutCancel(ctx), d.table, dest, engine.WriteOptions{
		Delimited: Delimited,
		Mode:      engine.ModeOverwrite,
	})
	if err != nil {
		return d.fail(core.StageLoad, core.ErrWriteFailure, err)
	}
	d.logger.Info("load done", zap.String("destination", dest), zap.Int("rows", d.table.NumRows()))
	return nil
}
