package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
)

// Error kinds surfaced by the dataset lifecycle. Match with errors.Is.
var (
	ErrMissingInput   = errors.New("missing input")
	ErrMissingScript  = errors.New("missing transformation script")
	ErrTransformation = errors.New("transformation failed")
	ErrWriteFailure   = errors.New("write failed")
	ErrNoTable        = errors.New("dataset has no table")
)

// Stage names one step of the extract/transform/load lifecycle.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// DatasetRef is the identity a transformation procedure sees.
type DatasetRef struct {
	Name       string
	InputPath  string
	ScriptPath string
}

// Procedure is the per-dataset transformation unit. It receives the current
// table and returns its replacement.
type Procedure interface {
	Apply(ctx context.Context, ds DatasetRef, t *table.Table) (*table.Table, error)
}

// ProcedureFunc adapts a function to the Procedure interface.
type ProcedureFunc func(ctx context.Context, ds DatasetRef, t *table.Table) (*table.Table, error)

func (f ProcedureFunc) Apply(ctx context.Context, ds DatasetRef, t *table.Table) (*table.Table, error) {
	return f(ctx, ds, t)
}

// StageError records which dataset and stage failed, the error kind, and the cause.
type StageError struct {
	Dataset string
	Stage   Stage
	Kind    error
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return "stage error"
	}
	msg := fmt.Sprintf("dataset %s: %s", e.Dataset, e.Stage)
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the lifecycle error kind carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrMissingInput, ErrMissingScript, ErrTransformation, ErrWriteFailure, ErrNoTable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// TransientError marks an error as retryable by transport implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
