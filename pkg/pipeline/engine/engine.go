// Package engine reads and writes tables at addressed locations.
package engine

import (
	"bytes"
	"context"
	"fmt"

	pipelineio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
)

// Mode selects how a write treats existing data at the destination.
type Mode string

const (
	ModeOverwrite Mode = "overwrite"
)

type WriteOptions struct {
	Delimited table.DelimitedOptions
	// Mode defaults to ModeOverwrite.
	Mode Mode
}

// Reader loads a table from a location.
type Reader interface {
	Read(ctx context.Context, location string, opts table.DelimitedOptions) (*table.Table, error)
}

// Writer stores a table at a location.
type Writer interface {
	Write(ctx context.Context, t *table.Table, location string, opts WriteOptions) error
}

// Engine decodes and encodes delimited tables through a store router.
// It is safe for concurrent use when the registered stores are.
type Engine struct {
	router *pipelineio.Router
}

var (
	_ Reader = (*Engine)(nil)
	_ Writer = (*Engine)(nil)
)

func New(router *pipelineio.Router) *Engine {
	return &Engine{router: router}
}

func (e *Engine) Read(ctx context.Context, location string, opts table.DelimitedOptions) (*table.Table, error) {
	b, err := e.router.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	t, err := table.ReadDelimited(bytes.NewReader(b), opts)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", location, err)
	}
	return t, nil
}

func (e *Engine) Write(ctx context.Context, t *table.Table, location string, opts WriteOptions) error {
	if t == nil {
		return fmt.Errorf("write %s: nil table", location)
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeOverwrite
	}
	if mode != ModeOverwrite {
		return fmt.Errorf("write %s: unsupported mode %q", location, mode)
	}

	var buf bytes.Buffer
	if err := table.WriteDelimited(&buf, t, opts.Delimited); err != nil {
		return fmt.Errorf("encode %s: %w", location, err)
	}
	return e.router.Replace(ctx, location, buf.Bytes())
}
