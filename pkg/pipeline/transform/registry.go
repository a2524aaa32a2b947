// Package transform resolves and runs the per-dataset transformation
// procedures: compiled Go procedures registered by dataset name, or YAML
// step scripts loaded from the dataset's script folder.
package transform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
)

// Source resolves the procedure for a dataset.
type Source interface {
	Resolve(ctx context.Context, ds core.DatasetRef) (core.Procedure, error)
}

// Func is a named table helper that scripts invoke with a "call" step.
type Func func(ctx context.Context, t *table.Table) (*table.Table, error)

// Registry is a Source backed by compiled procedures and cached scripts.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	procs   map[string]core.Procedure
	funcs   map[string]Func
	scripts map[string]*Script
}

var _ Source = (*Registry)(nil)

// NewRegistry returns a registry holding only the Builtins helpers.
func NewRegistry() *Registry {
	r := &Registry{
		procs:   make(map[string]core.Procedure),
		funcs:   make(map[string]Func, len(Builtins)),
		scripts: make(map[string]*Script),
	}
	for name, fn := range Builtins {
		r.funcs[name] = fn
	}
	return r
}

// Register binds a compiled procedure to a dataset name. It takes precedence
// over any script for that dataset.
func (r *Registry) Register(dataset string, p core.Procedure) error {
	if dataset == "" || p == nil {
		return fmt.Errorf("register procedure: dataset name and procedure are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[dataset]; ok {
		return fmt.Errorf("register procedure: %q already registered", dataset)
	}
	r.procs[dataset] = p
	return nil
}

func (r *Registry) MustRegister(dataset string, p core.Procedure) {
	if err := r.Register(dataset, p); err != nil {
		panic(err)
	}
}

// RegisterFunc makes fn callable from scripts as `- call: <name>`.
func (r *Registry) RegisterFunc(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("register func: name and func are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("register func: %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

func (r *Registry) lookupFunc(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Resolve returns the compiled procedure registered for ds.Name, else the
// script at ds.ScriptPath. Scripts are parsed once and cached by path.
//
// A missing script file yields core.ErrMissingScript; a script that fails to
// parse yields core.ErrTransformation.
func (r *Registry) Resolve(_ context.Context, ds core.DatasetRef) (core.Procedure, error) {
	r.mu.RLock()
	p, ok := r.procs[ds.Name]
	script, cached := r.scripts[ds.ScriptPath]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if cached {
		return script, nil
	}

	if ds.ScriptPath == "" {
		return nil, fmt.Errorf("%w: no procedure registered for %q", core.ErrMissingScript, ds.Name)
	}
	b, err := os.ReadFile(ds.ScriptPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrMissingScript, ds.ScriptPath)
		}
		return nil, fmt.Errorf("%w: read script: %w", core.ErrMissingScript, err)
	}
	script, err = ParseScript(ds.ScriptPath, b, r.lookupFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransformation, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.scripts[ds.ScriptPath]; ok {
		return prev, nil
	}
	r.scripts[ds.ScriptPath] = script
	return script, nil
}
