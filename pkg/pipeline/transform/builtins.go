package transform

import (
	"context"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
)

// Builtins are the helpers every Registry starts with.
var Builtins = map[string]Func{
	"trim_all":       trimAll,
	"drop_null_rows": dropNullRows,
}

// trimAll trims surrounding whitespace from every string column.
func trimAll(ctx context.Context, t *table.Table) (*table.Table, error) {
	for _, name := range t.Columns() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, _ := t.Column(name)
		if c.Type().Kind != table.KindString {
			continue
		}
		var err error
		if t, err = t.WithColumn(name, table.Trim(table.Col(name))); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// dropNullRows keeps only the rows where every column has a value.
func dropNullRows(ctx context.Context, t *table.Table) (*table.Table, error) {
	for _, name := range t.Columns() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		if t, err = t.Filter(table.NotNull(table.Col(name))); err != nil {
			return nil, err
		}
	}
	return t, nil
}
