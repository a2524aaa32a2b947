package mockfoundry_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/foundry"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/mockfoundry"
)

func newClient(t *testing.T, srv *mockfoundry.Server) *foundry.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := foundry.NewClient(ts.URL+"/api", "dummy-token", "")
	if err != nil {
		t.Fatalf("new foundry client: %v", err)
	}
	return client
}

func TestMockFoundry_CommitUpdatesFileContent(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	client := newClient(t, mockfoundry.New(dataDir))

	ctx := context.Background()
	datasetRID := "ri.foundry.main.dataset.99999999-9999-9999-9999-999999999999"

	txnID, err := client.CreateTransaction(ctx, datasetRID, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	want := []byte("id|amount\n1|10.50\n")
	if err := client.UploadFile(ctx, datasetRID, txnID, "part-00000.txt", "text/plain", want); err != nil {
		t.Fatalf("upload file: %v", err)
	}
	if err := client.CommitTransaction(ctx, datasetRID, txnID); err != nil {
		t.Fatalf("commit transaction: %v", err)
	}

	head, err := client.GetBranchTransactionRID(ctx, datasetRID, "")
	if err != nil {
		t.Fatalf("get branch: %v", err)
	}
	if head != txnID {
		t.Fatalf("branch head = %q, want %q", head, txnID)
	}

	got, err := client.ReadFile(ctx, datasetRID, "", head, "part-00000.txt")
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("file content mismatch:\n--- got ---\n%s\n--- want ---\n%s\n", got, want)
	}

	disk, err := os.ReadFile(filepath.Join(dataDir, datasetRID, "part-00000.txt"))
	if err != nil {
		t.Fatalf("read persisted snapshot: %v", err)
	}
	if !bytes.Equal(disk, want) {
		t.Fatalf("persisted snapshot mismatch: %q", disk)
	}
}

func TestMockFoundry_SnapshotReplacesPreviousFiles(t *testing.T) {
	t.Parallel()

	client := newClient(t, mockfoundry.New(""))
	ctx := context.Background()
	rid := "ri.foundry.main.dataset.eeeeeeee-eeee-eeee-eeee-eeeeeeeeeeee"

	commit := func(name string, body string) {
		t.Helper()
		txnID, err := client.CreateTransaction(ctx, rid, "")
		if err != nil {
			t.Fatalf("create transaction: %v", err)
		}
		if err := client.UploadFile(ctx, rid, txnID, name, "text/plain", []byte(body)); err != nil {
			t.Fatalf("upload file: %v", err)
		}
		if err := client.CommitTransaction(ctx, rid, txnID); err != nil {
			t.Fatalf("commit transaction: %v", err)
		}
	}
	commit("old.txt", "a")
	commit("part-00000.txt", "b")

	_, err := client.ReadFile(ctx, rid, "", "", "old.txt")
	var he *foundry.HTTPError
	if !errors.As(err, &he) || he.ErrorName != "FileNotFound" {
		t.Fatalf("expected FileNotFound for replaced file, got: %v", err)
	}
}

func TestMockFoundry_RejectUploadDatasetMismatch(t *testing.T) {
	t.Parallel()

	client := newClient(t, mockfoundry.New(""))
	ctx := context.Background()
	ridA := "ri.foundry.main.dataset.aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	ridB := "ri.foundry.main.dataset.bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"

	txnID, err := client.CreateTransaction(ctx, ridA, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	err = client.UploadFile(ctx, ridB, txnID, "part-00000.txt", "text/plain", []byte("id\n1\n"))
	if err == nil {
		t.Fatalf("expected upload to fail for dataset mismatch")
	}
	if !strings.Contains(err.Error(), "errorName=TransactionNotFound") {
		t.Fatalf("expected TransactionNotFound error, got: %v", err)
	}
}

func TestMockFoundry_RejectCommitWithoutUpload(t *testing.T) {
	t.Parallel()

	client := newClient(t, mockfoundry.New(""))
	ctx := context.Background()
	rid := "ri.foundry.main.dataset.cccccccc-cccc-cccc-cccc-cccccccccccc"

	txnID, err := client.CreateTransaction(ctx, rid, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	err = client.CommitTransaction(ctx, rid, txnID)
	if err == nil {
		t.Fatalf("expected commit to fail with no uploaded files")
	}
	if !strings.Contains(err.Error(), "errorName=Conjure:InvalidArgument") {
		t.Fatalf("expected InvalidArgument error, got: %v", err)
	}
}

func TestMockFoundry_OpenTransactionConflictAndAbort(t *testing.T) {
	t.Parallel()

	client := newClient(t, mockfoundry.New(""))
	ctx := context.Background()
	rid := "ri.foundry.main.dataset.dddddddd-dddd-dddd-dddd-dddddddddddd"

	first, err := client.CreateTransaction(ctx, rid, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	_, err = client.CreateTransaction(ctx, rid, "")
	var he *foundry.HTTPError
	if !errors.As(err, &he) || he.StatusCode != 409 || he.ErrorName != "OpenTransactionAlreadyExists" {
		t.Fatalf("expected OpenTransactionAlreadyExists, got: %v", err)
	}

	open, ok, err := client.FindLatestOpenTransaction(ctx, rid)
	if err != nil || !ok || open != first {
		t.Fatalf("FindLatestOpenTransaction = (%q, %v, %v), want (%q, true, nil)", open, ok, err, first)
	}

	if err := client.AbortTransaction(ctx, rid, first); err != nil {
		t.Fatalf("abort transaction: %v", err)
	}
	if _, ok, _ := client.FindLatestOpenTransaction(ctx, rid); ok {
		t.Fatalf("expected no open transaction after abort")
	}
	if _, err := client.CreateTransaction(ctx, rid, ""); err != nil {
		t.Fatalf("create transaction after abort: %v", err)
	}
}

func TestMockFoundry_RequireBearerToken(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New("")
	srv.RequireBearerToken("expected")
	client := newClient(t, srv)

	_, err := client.GetBranchTransactionRID(context.Background(), "ri.foundry.main.dataset.x", "")
	var he *foundry.HTTPError
	if !errors.As(err, &he) || he.StatusCode != 401 {
		t.Fatalf("expected 401, got: %v", err)
	}
	if strings.Contains(err.Error(), "dummy-token") {
		t.Fatalf("error leaks token: %v", err)
	}
}
