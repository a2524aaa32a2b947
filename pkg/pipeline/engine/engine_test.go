package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/engine"
	pipelineio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io/local"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
)

var pipe = table.DelimitedOptions{Sep: '|', Header: true}

func newEngine() *engine.Engine {
	r := pipelineio.NewRouter()
	r.Register("file", local.NewStore())
	return engine.New(r)
}

func TestEngine_ReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "sales.txt")
	require.NoError(t, os.WriteFile(in, []byte("ID|Amount\n1|10,50\n"), 0o644))

	e := newEngine()
	ctx := context.Background()

	tbl, err := e.Read(ctx, "file:"+in, pipe)
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "Amount"}, tbl.Columns())

	out := "file:" + filepath.Join(dir, "data_output", "sales")
	require.NoError(t, e.Write(ctx, tbl, out, engine.WriteOptions{Delimited: pipe}))

	b, err := os.ReadFile(filepath.Join(dir, "data_output", "sales", pipelineio.PartFileName))
	require.NoError(t, err)
	assert.Equal(t, "ID|Amount\n1|10,50\n", string(b))

	back, err := e.Read(ctx, out, pipe)
	require.NoError(t, err)
	assert.Equal(t, 1, back.NumRows())
}

func TestEngine_WriteRejectsUnknownMode(t *testing.T) {
	tbl, err := table.ReadDelimited(strings.NewReader("a\n1\n"), pipe)
	require.NoError(t, err)

	err = newEngine().Write(context.Background(), tbl, "file:"+t.TempDir()+"/x", engine.WriteOptions{Mode: "append"})
	require.ErrorContains(t, err, "unsupported mode")
}

func TestEngine_UnregisteredScheme(t *testing.T) {
	_, err := newEngine().Read(context.Background(), "hdfs:/data_out/x", pipe)
	require.ErrorContains(t, err, `no store registered for scheme "hdfs"`)
}
