package table

import (
	"fmt"
	"regexp"
	"strings"
)

// Expr is a column expression evaluated against a table.
type Expr interface {
	fmt.Stringer
	eval(t *Table) (*Column, error)
}

type colExpr struct{ name string }

// Col references an existing column by name.
func Col(name string) Expr { return colExpr{name: name} }

func (e colExpr) String() string { return e.name }

func (e colExpr) eval(t *Table) (*Column, error) {
	c, ok := t.Column(e.name)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", e.name)
	}
	return c, nil
}

type litExpr struct{ value string }

// Lit is a constant string column.
func Lit(value string) Expr { return litExpr{value: value} }

func (e litExpr) String() string { return fmt.Sprintf("%q", e.value) }

func (e litExpr) eval(t *Table) (*Column, error) {
	values := make([]string, t.rows)
	for i := range values {
		values[i] = e.value
	}
	return NewColumn(e.String(), values, nil), nil
}

// mapExpr applies fn to every non-null value of its input.
type mapExpr struct {
	label string
	in    Expr
	typ   Type
	fn    func(string) (string, bool)
	err   error
}

func (e mapExpr) String() string { return fmt.Sprintf("%s(%s)", e.label, e.in) }

func (e mapExpr) eval(t *Table) (*Column, error) {
	if e.err != nil {
		return nil, e.err
	}
	in, err := e.in.eval(t)
	if err != nil {
		return nil, err
	}
	values := make([]string, in.Len())
	nulls := make([]bool, in.Len())
	for i := range values {
		v, ok := in.Value(i)
		if !ok {
			nulls[i] = true
			continue
		}
		out, ok := e.fn(v)
		if !ok {
			nulls[i] = true
			continue
		}
		values[i] = out
	}
	return &Column{name: e.String(), typ: e.typ, values: values, nulls: nulls}, nil
}

// RegexpReplace replaces every match of pattern in the string values of in.
// An invalid pattern surfaces as an error when the expression is evaluated.
func RegexpReplace(in Expr, pattern, replacement string) Expr {
	e := mapExpr{label: "regexp_replace", in: in, typ: String}
	re, err := regexp.Compile(pattern)
	if err != nil {
		e.err = fmt.Errorf("regexp_replace: %w", err)
		return e
	}
	e.fn = func(v string) (string, bool) {
		return re.ReplaceAllString(v, replacement), true
	}
	return e
}

// Cast converts values to typ. Values that cannot be represented become null.
func Cast(in Expr, typ Type) Expr {
	return mapExpr{
		label: "cast_" + typ.String(),
		in:    in,
		typ:   typ,
		fn:    func(v string) (string, bool) { return convert(v, typ) },
	}
}

func Lower(in Expr) Expr {
	return mapExpr{label: "lower", in: in, typ: String, fn: func(v string) (string, bool) {
		return strings.ToLower(v), true
	}}
}

func Upper(in Expr) Expr {
	return mapExpr{label: "upper", in: in, typ: String, fn: func(v string) (string, bool) {
		return strings.ToUpper(v), true
	}}
}

func Trim(in Expr) Expr {
	return mapExpr{label: "trim", in: in, typ: String, fn: func(v string) (string, bool) {
		return strings.TrimSpace(v), true
	}}
}

// Eq is true where the value equals want, null where the value is null.
func Eq(in Expr, want string) Expr {
	return mapExpr{label: "eq_" + want, in: in, typ: Bool, fn: func(v string) (string, bool) {
		return fmt.Sprint(v == want), true
	}}
}

// Ne is true where the value differs from want, null where the value is null.
func Ne(in Expr, want string) Expr {
	return mapExpr{label: "ne_" + want, in: in, typ: Bool, fn: func(v string) (string, bool) {
		return fmt.Sprint(v != want), true
	}}
}

type nullCheckExpr struct {
	in   Expr
	want bool
}

// IsNull is true where the value is null.
func IsNull(in Expr) Expr { return nullCheckExpr{in: in, want: true} }

// NotNull is true where the value is present.
func NotNull(in Expr) Expr { return nullCheckExpr{in: in, want: false} }

func (e nullCheckExpr) String() string {
	if e.want {
		return fmt.Sprintf("isnull(%s)", e.in)
	}
	return fmt.Sprintf("isnotnull(%s)", e.in)
}

func (e nullCheckExpr) eval(t *Table) (*Column, error) {
	in, err := e.in.eval(t)
	if err != nil {
		return nil, err
	}
	values := make([]string, in.Len())
	for i := range values {
		_, ok := in.Value(i)
		values[i] = fmt.Sprint(!ok == e.want)
	}
	c := NewColumn(e.String(), values, nil)
	c.typ = Bool
	return c, nil
}

type concatExpr struct{ parts []Expr }

// Concat joins the string values of parts. Any null part makes the row null.
func Concat(parts ...Expr) Expr { return concatExpr{parts: parts} }

func (e concatExpr) String() string {
	names := make([]string, len(e.parts))
	for i, p := range e.parts {
		names[i] = p.String()
	}
	return "concat(" + strings.Join(names, ", ") + ")"
}

func (e concatExpr) eval(t *Table) (*Column, error) {
	cols := make([]*Column, len(e.parts))
	for i, p := range e.parts {
		c, err := p.eval(t)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	values := make([]string, t.rows)
	nulls := make([]bool, t.rows)
	for i := 0; i < t.rows; i++ {
		var b strings.Builder
		for _, c := range cols {
			v, ok := c.Value(i)
			if !ok {
				nulls[i] = true
				break
			}
			b.WriteString(v)
		}
		if !nulls[i] {
			values[i] = b.String()
		}
	}
	return NewColumn(e.String(), values, nulls), nil
}
