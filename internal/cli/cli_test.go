package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/version"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/core"
	pipelineio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/transform"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"ETL_WORKERS", "ETL_FAIL_FAST", "ETL_DATASET_TIMEOUT", "ETL_RATE_LIMIT_RPS",
		"ETL_LOG_LEVEL", "ETL_LOG_FORMAT", "ETL_DISTRIBUTED_ROOT", "ETL_DISTRIBUTED_SCHEME",
		"ETL_HDFS_NAMENODES", "ETL_HDFS_USER", "ETL_HDFS_SOURCE", "ETL_HISTORY_PATH",
		"GET_JOB_URI", "POST_RESULT_URI",
	} {
		t.Setenv(v, "")
	}
}

func project(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func execute(t *testing.T, procs *transform.Registry, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), append(args, "--no-color"), &stdout, &stderr, procs)
	return code, stdout.String(), stderr.String()
}

func TestParseFolderArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want folderArgs
		err  string
	}{
		{name: "none", args: nil, want: folderArgs{}},
		{
			name: "positional folders get a trailing slash",
			args: []string{"raw", "scripts/"},
			want: folderArgs{RawFolder: "raw/", ScriptFolder: "scripts/"},
		},
		{
			name: "keyword tokens",
			args: []string{"raw", "s", "project_dir=/srv/etl", "distributed_root=/out/"},
			want: folderArgs{RawFolder: "raw/", ScriptFolder: "s/", ProjectDir: "/srv/etl/", DistributedRoot: "/out/"},
		},
		{
			name: "keyword tokens may come first",
			args: []string{"project_dir=/p", "/abs/raw"},
			want: folderArgs{RawFolder: "/abs/raw/", ProjectDir: "/p/"},
		},
		{name: "unknown keyword", args: []string{"outdir=/x"}, err: "unknown argument"},
		{name: "empty keyword", args: []string{"project_dir="}, err: "needs a directory"},
		{name: "too many folders", args: []string{"a", "b", "c"}, err: "at most"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFolderArgs(tt.args)
			if tt.err != "" {
				require.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_SucceedsAndRecordsHistory(t *testing.T) {
	isolateEnv(t)
	root := project(t, map[string]string{
		"data/sales.txt":     "ID|Amount\n1|10,50\n",
		"scripts/sales.yaml": "steps:\n  - normalize_decimals: [amount]\n  - cast: {column: amount, type: \"decimal(10,2)\"}\n",
	})
	db := filepath.Join(root, "history.db")

	code, stdout, stderr := execute(t, nil, "run", "data", "scripts", "project_dir="+root, "--history", db, "--workers", "2")
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "ok")
	assert.Contains(t, stdout, "sales")
	assert.Contains(t, stdout, "1 succeeded, 0 failed, 0 skipped")
	assert.Contains(t, stderr, "dataset created", "lifecycle events are logged to stderr")

	got, err := os.ReadFile(filepath.Join(root, "data_output", "sales", pipelineio.PartFileName))
	require.NoError(t, err)
	assert.Equal(t, "id|amount\n1|10.50\n", string(got))

	code, stdout, stderr = execute(t, nil, "history", "--history", db, "--limit", "5")
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "1 datasets, 0 failed")
	assert.Contains(t, stdout, "sales")
}

func TestRun_DefaultsToWorkingDirectory(t *testing.T) {
	isolateEnv(t)
	root := project(t, map[string]string{
		"data/sales.txt":     "ID|Amount\n1|10,50\n",
		"scripts/sales.yaml": "steps:\n  - call: trim_all\n  - normalize_decimals: [amount]\n",
	})
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	code, stdout, stderr := execute(t, nil, "run", "data", "scripts")
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "file:data_output/")

	got, err := os.ReadFile(filepath.Join(root, "data_output", "sales", pipelineio.PartFileName))
	require.NoError(t, err)
	assert.Equal(t, "id|amount\n1|10.50\n", string(got))
}

func TestRun_CompiledProcedure(t *testing.T) {
	isolateEnv(t)
	root := project(t, map[string]string{"data/sales.txt": "ID|Amount\n1|10,50\n"})

	procs := transform.NewRegistry()
	procs.MustRegister("sales", core.ProcedureFunc(func(_ context.Context, _ core.DatasetRef, t *table.Table) (*table.Table, error) {
		return t.WithColumn("amount", table.Cast(transform.FormatDecimals("amount"), table.Decimal(10, 2)))
	}))

	code, _, stderr := execute(t, procs, "run", "project_dir="+root)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)

	got, err := os.ReadFile(filepath.Join(root, "data_output", "sales", pipelineio.PartFileName))
	require.NoError(t, err)
	assert.Equal(t, "id|amount\n1|10.50\n", string(got))
}

func TestRun_DatasetFailureExitsOne(t *testing.T) {
	isolateEnv(t)
	root := project(t, map[string]string{
		"data/sales.txt":     "ID|Amount\n1|10,50\n",
		"data/orders.txt":    "ID\n1\n",
		"scripts/sales.yaml": "steps:\n  - normalize_decimals: [amount]\n",
	})

	code, stdout, stderr := execute(t, nil, "run", "data", "scripts", "project_dir="+root)
	assert.Equal(t, ExitFailed, code)
	assert.Contains(t, stdout, "failed")
	assert.Contains(t, stdout, "orders")
	assert.Contains(t, stderr, "1 of 2 datasets failed")

	_, err := os.Stat(filepath.Join(root, "data_output", "sales", pipelineio.PartFileName))
	assert.NoError(t, err, "the healthy dataset is still loaded")
}

func TestRun_UsageErrors(t *testing.T) {
	isolateEnv(t)
	root := project(t, map[string]string{"data/a.txt": "x\n"})

	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown keyword", args: []string{"run", "bogus=1"}},
		{name: "unknown flag", args: []string{"run", "--frobnicate"}},
		{name: "invalid workers", args: []string{"run", "project_dir=" + root, "--workers", "0"}},
		{name: "missing raw folder", args: []string{"run", "nope", "project_dir=" + root}},
		{name: "hdfs without namenodes", args: []string{"run", "project_dir=" + root, "--distributed"}},
		{name: "bad log format", args: []string{"run", "project_dir=" + root, "--log-format", "xml"}},
		{name: "serve outside a compute module", args: []string{"serve"}},
		{name: "history without a database", args: []string{"history"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, nil, tt.args...)
			assert.Equal(t, ExitUsage, code, "stderr: %s", stderr)
			assert.True(t, strings.HasPrefix(stderr, "Error: "), "stderr: %s", stderr)
		})
	}
}

func TestList(t *testing.T) {
	isolateEnv(t)
	root := project(t, map[string]string{
		"raw/sales.txt":   "x\n",
		"raw/clients.txt": "x\n",
		"raw/readme.md":   "x\n",
	})

	code, stdout, stderr := execute(t, nil, "list", "raw", "/abs/scripts", "project_dir="+root, "distributed_root=/dist")
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "clients\n")
	assert.Contains(t, stdout, "file:"+root+"/raw/sales.txt")
	assert.Contains(t, stdout, "/abs/scripts/sales.yaml")
	assert.Contains(t, stdout, "hdfs:/dist/sales")
	assert.Contains(t, stdout, "2 datasets")
	assert.Less(t, strings.Index(stdout, "clients"), strings.Index(stdout, "sales"))
}

func TestVersion(t *testing.T) {
	isolateEnv(t)
	code, stdout, _ := execute(t, nil, "--version")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, version.Current)
}
