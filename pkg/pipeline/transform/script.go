package transform

import (
	"context"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
)

// Script is a parsed YAML step list. Steps run in order, each replacing the
// table with its result.
//
//	steps:
//	  - normalize_decimals: [amount]
//	  - cast: {column: amount, type: "decimal(10,2)"}
//	  - derive: {column: label, concat: [id, {lit: "-"}, name]}
//	  - filter: {column: amount, op: not_null}
type Script struct {
	Path  string
	Steps []Step
}

var _ core.Procedure = (*Script)(nil)

// Step is one parsed script instruction.
type Step struct {
	Kind  string
	apply func(ctx context.Context, t *table.Table) (*table.Table, error)
}

func (s *Script) Apply(ctx context.Context, _ core.DatasetRef, t *table.Table) (*table.Table, error) {
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := step.apply(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%s: step %d (%s): %w", s.Path, i+1, step.Kind, err)
		}
		t = next
	}
	return t, nil
}

type scriptDoc struct {
	Steps []yaml.Node `yaml:"steps"`
}

// ParseScript parses script source. funcs resolves the helpers named by
// "call" steps; unknown step kinds and unknown helpers are parse errors.
func ParseScript(path string, src []byte, funcs func(name string) (Func, bool)) (*Script, error) {
	var doc scriptDoc
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	s := &Script{Path: path, Steps: make([]Step, 0, len(doc.Steps))}
	for i := range doc.Steps {
		step, err := parseStep(&doc.Steps[i], funcs)
		if err != nil {
			return nil, fmt.Errorf("parse script %s: step %d: %w", path, i+1, err)
		}
		s.Steps = append(s.Steps, step)
	}
	return s, nil
}

func parseStep(n *yaml.Node, funcs func(string) (Func, bool)) (Step, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return Step{}, fmt.Errorf("line %d: a step is a mapping with exactly one key", n.Line)
	}
	kind, arg := n.Content[0].Value, n.Content[1]

	var (
		apply func(ctx context.Context, t *table.Table) (*table.Table, error)
		err   error
	)
	switch kind {
	case "normalize_decimals":
		apply, err = columnsStep(arg, FormatDecimals)
	case "trim":
		apply, err = columnsStep(arg, func(c string) table.Expr { return table.Trim(table.Col(c)) })
	case "upper":
		apply, err = columnsStep(arg, func(c string) table.Expr { return table.Upper(table.Col(c)) })
	case "lower":
		apply, err = columnsStep(arg, func(c string) table.Expr { return table.Lower(table.Col(c)) })
	case "cast":
		apply, err = castStep(arg)
	case "rename":
		apply, err = renameStep(arg)
	case "drop":
		var cols []string
		if err = arg.Decode(&cols); err == nil {
			apply = func(_ context.Context, t *table.Table) (*table.Table, error) { return t.Drop(cols...), nil }
		}
	case "select":
		var cols []string
		if err = arg.Decode(&cols); err == nil {
			apply = func(_ context.Context, t *table.Table) (*table.Table, error) { return t.Select(cols...) }
		}
	case "replace":
		apply, err = replaceStep(arg)
	case "derive":
		apply, err = deriveStep(arg)
	case "filter":
		apply, err = filterStep(arg)
	case "call":
		var name string
		if err = arg.Decode(&name); err == nil {
			fn, ok := funcs(name)
			if !ok {
				return Step{}, fmt.Errorf("line %d: call: unknown helper %q", n.Line, name)
			}
			apply = func(ctx context.Context, t *table.Table) (*table.Table, error) { return fn(ctx, t) }
		}
	default:
		return Step{}, fmt.Errorf("line %d: unknown step %q", n.Line, kind)
	}
	if err != nil {
		return Step{}, fmt.Errorf("line %d: %s: %w", n.Line, kind, err)
	}
	return Step{Kind: kind, apply: apply}, nil
}

// columnsStep applies expr to every listed column in place.
func columnsStep(arg *yaml.Node, expr func(col string) table.Expr) (func(context.Context, *table.Table) (*table.Table, error), error) {
	var cols []string
	if err := arg.Decode(&cols); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}
	return func(_ context.Context, t *table.Table) (*table.Table, error) {
		var err error
		for _, c := range cols {
			if t, err = t.WithColumn(c, expr(c)); err != nil {
				return nil, err
			}
		}
		return t, nil
	}, nil
}

type castArgs struct {
	Column string `yaml:"column"`
	Type   string `yaml:"type"`
}

func castStep(arg *yaml.Node) (func(context.Context, *table.Table) (*table.Table, error), error) {
	var a castArgs
	if err := arg.Decode(&a); err != nil {
		return nil, err
	}
	if a.Column == "" {
		return nil, fmt.Errorf("column is required")
	}
	typ, err := table.ParseType(a.Type)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, t *table.Table) (*table.Table, error) {
		return t.WithColumn(a.Column, table.Cast(table.Col(a.Column), typ))
	}, nil
}

type renameArgs struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func renameStep(arg *yaml.Node) (func(context.Context, *table.Table) (*table.Table, error), error) {
	var a renameArgs
	if err := arg.Decode(&a); err != nil {
		return nil, err
	}
	if a.From == "" || a.To == "" {
		return nil, fmt.Errorf("from and to are required")
	}
	return func(_ context.Context, t *table.Table) (*table.Table, error) {
		return t.WithColumnRenamed(a.From, a.To), nil
	}, nil
}

type replaceArgs struct {
	Column  string `yaml:"column"`
	Pattern string `yaml:"pattern"`
	With    string `yaml:"with"`
}

func replaceStep(arg *yaml.Node) (func(context.Context, *table.Table) (*table.Table, error), error) {
	var a replaceArgs
	if err := arg.Decode(&a); err != nil {
		return nil, err
	}
	if a.Column == "" {
		return nil, fmt.Errorf("column is required")
	}
	if _, err := regexp.Compile(a.Pattern); err != nil {
		return nil, err
	}
	return func(_ context.Context, t *table.Table) (*table.Table, error) {
		return t.WithColumn(a.Column, table.RegexpReplace(table.Col(a.Column), a.Pattern, a.With))
	}, nil
}

type deriveArgs struct {
	Column  string      `yaml:"column"`
	Concat  []yaml.Node `yaml:"concat"`
	Literal *string     `yaml:"literal"`
	Copy    string      `yaml:"copy"`
}

type literalPart struct {
	Lit string `yaml:"lit"`
}

// deriveStep adds or replaces a column from exactly one of concat, literal
// or copy. Concat parts are column names, or {lit: "..."} for constants.
func deriveStep(arg *yaml.Node) (func(context.Context, *table.Table) (*table.Table, error), error) {
	var a deriveArgs
	if err := arg.Decode(&a); err != nil {
		return nil, err
	}
	if a.Column == "" {
		return nil, fmt.Errorf("column is required")
	}

	var expr table.Expr
	sources := 0
	if len(a.Concat) > 0 {
		sources++
		parts := make([]table.Expr, 0, len(a.Concat))
		for i := range a.Concat {
			p := &a.Concat[i]
			switch p.Kind {
			case yaml.ScalarNode:
				parts = append(parts, table.Col(p.Value))
			case yaml.MappingNode:
				var lit literalPart
				if err := p.Decode(&lit); err != nil {
					return nil, err
				}
				parts = append(parts, table.Lit(lit.Lit))
			default:
				return nil, fmt.Errorf("concat part %d must be a column name or {lit: ...}", i+1)
			}
		}
		expr = table.Concat(parts...)
	}
	if a.Literal != nil {
		sources++
		expr = table.Lit(*a.Literal)
	}
	if a.Copy != "" {
		sources++
		expr = table.Col(a.Copy)
	}
	if sources != 1 {
		return nil, fmt.Errorf("exactly one of concat, literal or copy is required")
	}
	return func(_ context.Context, t *table.Table) (*table.Table, error) {
		return t.WithColumn(a.Column, expr)
	}, nil
}

type filterArgs struct {
	Column string `yaml:"column"`
	Op     string `yaml:"op"`
	Value  string `yaml:"value"`
}

func filterStep(arg *yaml.Node) (func(context.Context, *table.Table) (*table.Table, error), error) {
	var a filterArgs
	if err := arg.Decode(&a); err != nil {
		return nil, err
	}
	if a.Column == "" {
		return nil, fmt.Errorf("column is required")
	}
	col := table.Col(a.Column)
	var pred table.Expr
	switch a.Op {
	case "eq":
		pred = table.Eq(col, a.Value)
	case "ne":
		pred = table.Ne(col, a.Value)
	case "not_null":
		pred = table.NotNull(col)
	case "is_null":
		pred = table.IsNull(col)
	default:
		return nil, fmt.Errorf("unknown op %q (expected eq|ne|not_null|is_null)", a.Op)
	}
	return func(_ context.Context, t *table.Table) (*table.Table, error) {
		return t.Filter(pred)
	}, nil
}
