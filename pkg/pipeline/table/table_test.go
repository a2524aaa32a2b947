package table_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
)

var pipe = table.DelimitedOptions{Sep: '|', Header: true}

func mustRead(t *testing.T, in string) *table.Table {
	t.Helper()
	tbl, err := table.ReadDelimited(strings.NewReader(in), pipe)
	require.NoError(t, err)
	return tbl
}

func columnValues(t *testing.T, tbl *table.Table, name string) []string {
	t.Helper()
	c, ok := tbl.Column(name)
	require.True(t, ok, "column %q missing", name)
	out := make([]string, c.Len())
	for i := range out {
		v, ok := c.Value(i)
		if !ok {
			v = "<null>"
		}
		out[i] = v
	}
	return out
}

func TestReadDelimited(t *testing.T) {
	t.Run("pipe separated with header", func(t *testing.T) {
		tbl := mustRead(t, "ID|Amount\n1|10,50\n2|\n")
		assert.Equal(t, []string{"ID", "Amount"}, tbl.Columns())
		assert.Equal(t, 2, tbl.NumRows())
		assert.Equal(t, []string{"10,50", "<null>"}, columnValues(t, tbl, "Amount"))
	})

	t.Run("short rows are padded with nulls", func(t *testing.T) {
		tbl := mustRead(t, "a|b|c\n1\n")
		assert.Equal(t, []string{"<null>"}, columnValues(t, tbl, "c"))
	})

	t.Run("no header names columns positionally", func(t *testing.T) {
		tbl, err := table.ReadDelimited(strings.NewReader("x|y\n"), table.DelimitedOptions{Sep: '|'})
		require.NoError(t, err)
		assert.Equal(t, []string{"_c0", "_c1"}, tbl.Columns())
		assert.Equal(t, 1, tbl.NumRows())
	})

	t.Run("empty input with header errors", func(t *testing.T) {
		_, err := table.ReadDelimited(strings.NewReader(""), pipe)
		require.Error(t, err)
	})
}

func TestWriteDelimited(t *testing.T) {
	tbl := mustRead(t, "id|amount\n1|10.50\n2|\n")
	var buf bytes.Buffer
	require.NoError(t, table.WriteDelimited(&buf, tbl, pipe))
	assert.Equal(t, "id|amount\n1|10.50\n2|\n", buf.String())
}

func TestWithColumnRenamed(t *testing.T) {
	tbl := mustRead(t, "A|B\n1|2\n")

	renamed := tbl.WithColumnRenamed("A", "a")
	assert.Equal(t, []string{"a", "B"}, renamed.Columns())
	assert.Equal(t, []string{"A", "B"}, tbl.Columns(), "source table must not change")

	assert.Same(t, renamed, renamed.WithColumnRenamed("missing", "x"))
}

func TestCast(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		in   string
		want string
	}{
		{name: "decimal keeps scale", typ: "decimal(10,2)", in: "10.5", want: "10.50"},
		{name: "decimal rounds", typ: "decimal(10,2)", in: "3.14159", want: "3.14"},
		{name: "decimal overflow is null", typ: "decimal(4,2)", in: "12345", want: "<null>"},
		{name: "decimal unparsable is null", typ: "decimal(10,2)", in: "10,50", want: "<null>"},
		{name: "int", typ: "int", in: "42", want: "42"},
		{name: "int truncates", typ: "int", in: "42.9", want: "42"},
		{name: "double", typ: "double", in: "10.50", want: "10.5"},
		{name: "bool", typ: "boolean", in: "Yes", want: "true"},
		{name: "bool unparsable", typ: "boolean", in: "maybe", want: "<null>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := table.ParseType(tt.typ)
			require.NoError(t, err)

			tbl := mustRead(t, "v\n"+tt.in+"\n")
			out, err := tbl.WithColumn("v", table.Cast(table.Col("v"), typ))
			require.NoError(t, err)

			assert.Equal(t, []string{tt.want}, columnValues(t, out, "v"))
			c, _ := out.Column("v")
			assert.Equal(t, typ, c.Type())
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := table.ParseType("Decimal(12, 3)")
	require.NoError(t, err)
	assert.Equal(t, table.Decimal(12, 3), typ)

	_, err = table.ParseType("decimal(2,5)")
	require.Error(t, err)

	_, err = table.ParseType("blob")
	require.Error(t, err)
}

func TestRegexpReplace(t *testing.T) {
	tbl := mustRead(t, "v\n3,14\n314\n\n1,000,5\n")
	out, err := tbl.WithColumn("v", table.RegexpReplace(table.Col("v"), ",", "."))
	require.NoError(t, err)
	assert.Equal(t, []string{"3.14", "314", "1.000.5"}, columnValues(t, out, "v"))

	_, err = tbl.WithColumn("v", table.RegexpReplace(table.Col("v"), "(", ""))
	require.Error(t, err)
}

func TestFilterDropSelect(t *testing.T) {
	tbl := mustRead(t, "id|status|note\n1|ok|a\n2||b\n3|bad|c\n")

	kept, err := tbl.Filter(table.NotNull(table.Col("status")))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, columnValues(t, kept, "id"))

	ok, err := tbl.Filter(table.Eq(table.Col("status"), "ok"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, columnValues(t, ok, "id"))

	_, err = tbl.Filter(table.Col("status"))
	require.Error(t, err, "non-boolean predicate must fail")

	assert.Equal(t, []string{"id", "status"}, tbl.Drop("note", "missing").Columns())

	sel, err := tbl.Select("note", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"note", "id"}, sel.Columns())

	_, err = tbl.Select("nope")
	require.Error(t, err)
}

func TestConcat(t *testing.T) {
	tbl := mustRead(t, "a|b\nx|y\nx|\n")
	out, err := tbl.WithColumn("ab", table.Concat(table.Col("a"), table.Lit("-"), table.Col("b")))
	require.NoError(t, err)
	assert.Equal(t, []string{"x-y", "<null>"}, columnValues(t, out, "ab"))
}

func TestNewRejectsRaggedColumns(t *testing.T) {
	_, err := table.New(
		table.NewColumn("a", []string{"1", "2"}, nil),
		table.NewColumn("b", []string{"1"}, nil),
	)
	require.Error(t, err)
}
