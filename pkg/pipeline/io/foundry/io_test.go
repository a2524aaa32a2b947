package foundryio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/foundry"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/mockfoundry"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/core"
)

const salesRID = "ri.foundry.main.dataset.11111111-1111-1111-1111-111111111111"

func newStore(t *testing.T, h http.Handler) (*Store, *foundry.Client) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	client, err := foundry.NewClient(ts.URL+"/api", "dummy-token", "")
	if err != nil {
		t.Fatalf("new foundry client: %v", err)
	}
	aliases := map[string]foundry.DatasetRef{"sales": {RID: salesRID}}
	return NewStore(client, aliases).WithRetry(3, time.Millisecond), client
}

func TestStore_ReplaceThenRead(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New("")
	s, _ := newStore(t, srv.Handler())
	ctx := context.Background()

	if err := s.Replace(ctx, "/data_out/sales", []byte("id|amount\n1|10.50\n")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.Replace(ctx, "/data_out/sales", []byte("id|amount\n2|3.00\n")); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := s.Read(ctx, "/data_out/sales")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "id|amount\n2|3.00\n" {
		t.Fatalf("unexpected content: %q", got)
	}

	uploads := srv.Uploads()
	if len(uploads) != 2 || uploads[1].FilePath != "part-00000.txt" || uploads[1].DatasetRID != salesRID {
		t.Fatalf("unexpected uploads: %+v", uploads)
	}
}

func TestStore_UnknownAlias(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, mockfoundry.New("").Handler())
	if err := s.Replace(context.Background(), "/data_out/unknown", []byte("x")); err == nil {
		t.Fatalf("expected unknown alias to fail")
	}
}

func TestStore_RIDLocation(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New("")
	s, _ := newStore(t, srv.Handler())
	rid := "ri.foundry.main.dataset.22222222-2222-2222-2222-222222222222"
	if err := s.Replace(context.Background(), "/"+rid, []byte("a\n1\n")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if up := srv.Uploads(); len(up) != 1 || up[0].DatasetRID != rid {
		t.Fatalf("unexpected uploads: %+v", up)
	}
}

func TestStore_UploadsIntoExistingOpenTransaction(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New("")
	s, client := newStore(t, srv.Handler())
	ctx := context.Background()

	owned, err := client.CreateTransaction(ctx, salesRID, "")
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if err := s.Replace(ctx, "/data_out/sales", []byte("id\n1\n")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	up := srv.Uploads()
	if len(up) != 1 || up[0].TxnID != owned {
		t.Fatalf("expected upload into %s, got %+v", owned, up)
	}
	open, ok, err := client.FindLatestOpenTransaction(ctx, salesRID)
	if err != nil || !ok || open != owned {
		t.Fatalf("owned transaction should stay open, got (%q, %v, %v)", open, ok, err)
	}
}

func TestStore_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New("")
	var failures atomic.Int32
	failures.Store(2)
	flaky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(-1) >= 0 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		srv.Handler().ServeHTTP(w, r)
	})

	s, _ := newStore(t, flaky)
	if err := s.Replace(context.Background(), "/data_out/sales", []byte("id\n1\n")); err != nil {
		t.Fatalf("replace should succeed after transient failures: %v", err)
	}
}

func TestRetryTransient(t *testing.T) {
	t.Parallel()

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		perm := errors.New("bad request")
		err := retryTransient(context.Background(), 5, time.Millisecond, func() error {
			calls++
			return perm
		})
		if !errors.Is(err, perm) || calls != 1 {
			t.Fatalf("got err=%v calls=%d", err, calls)
		}
	})

	t.Run("retries marked transient errors", func(t *testing.T) {
		calls := 0
		err := retryTransient(context.Background(), 3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return &core.TransientError{Err: errors.New("flaky")}
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("got err=%v calls=%d", err, calls)
		}
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := retryTransient(ctx, 3, time.Second, func() error {
			return &foundry.HTTPError{StatusCode: 503}
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
