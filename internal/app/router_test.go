package app

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/config"
	hdfsio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io/hdfs"
)

func TestHDFSConfig_FromSourceCredentials(t *testing.T) {
	p := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(p, []byte(`{"cluster":{"Namenodes":"nn1:8020, nn2:8020","User":"etl"}}`), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
	t.Setenv("SOURCE_CREDENTIALS", p)

	got, err := hdfsConfig(config.HDFS{Source: "cluster"})
	if err != nil {
		t.Fatalf("hdfsConfig: %v", err)
	}
	want := hdfsio.Config{Namenodes: []string{"nn1:8020", "nn2:8020"}, User: "etl"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	got, err = hdfsConfig(config.HDFS{Source: "cluster", Namenodes: []string{"explicit:8020"}})
	if err != nil {
		t.Fatalf("hdfsConfig: %v", err)
	}
	if got.Namenodes[0] != "explicit:8020" || got.User != "etl" {
		t.Fatalf("explicit namenodes must win, got %+v", got)
	}

	if _, err := hdfsConfig(config.HDFS{Source: "missing"}); err == nil {
		t.Fatalf("expected error for an unknown source")
	}
}

func TestHDFSConfig_WithoutSource(t *testing.T) {
	t.Setenv("SOURCE_CREDENTIALS", "")
	got, err := hdfsConfig(config.HDFS{Namenodes: []string{"nn:8020"}, User: "u"})
	if err != nil {
		t.Fatalf("hdfsConfig: %v", err)
	}
	if got.User != "u" || len(got.Namenodes) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestNewRouter_Schemes(t *testing.T) {
	cfg := config.Default()
	r, err := NewRouter(cfg, Deps{})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if got := r.Schemes(); !reflect.DeepEqual(got, []string{"file"}) {
		t.Fatalf("local run schemes = %v", got)
	}

	cfg.Distributed = true
	cfg.DistributedScheme = "hdfs"
	r, err = NewRouter(cfg, Deps{HDFS: fakeFS{}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if got := r.Schemes(); !reflect.DeepEqual(got, []string{"file", "hdfs"}) {
		t.Fatalf("hdfs run schemes = %v", got)
	}

	cfg.DistributedScheme = "foundry"
	t.Setenv("FOUNDRY_SERVICE_DISCOVERY_V2", "")
	t.Setenv("FOUNDRY_URL", "")
	if _, err := NewRouter(cfg, Deps{}); err == nil {
		t.Fatalf("expected foundry env error")
	}
}

// fakeFS satisfies hdfsio.FileSystem for wiring tests that never touch it.
type fakeFS struct{ hdfsio.FileSystem }
