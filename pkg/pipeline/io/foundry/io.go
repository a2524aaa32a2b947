// Package foundryio stores dataset outputs as Foundry dataset SNAPSHOT
// transactions.
package foundryio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/foundry"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/core"
	pipelineio "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/io"
)

const (
	defaultAttempts     = 8
	defaultInitialSleep = 200 * time.Millisecond
)

// Store maps "foundry:" locations to datasets. The last path element of a
// location is looked up in the alias map (RESOURCE_ALIAS_MAP); a last element
// starting with "ri." is used as a dataset RID directly.
type Store struct {
	client  *foundry.Client
	aliases map[string]foundry.DatasetRef

	attempts     int
	initialSleep time.Duration
}

var _ pipelineio.Store = (*Store)(nil)

func NewStore(client *foundry.Client, aliases map[string]foundry.DatasetRef) *Store {
	return &Store{
		client:       client,
		aliases:      aliases,
		attempts:     defaultAttempts,
		initialSleep: defaultInitialSleep,
	}
}

// WithRetry overrides the transient-error retry schedule.
func (s *Store) WithRetry(attempts int, initialSleep time.Duration) *Store {
	s.attempts = attempts
	s.initialSleep = initialSleep
	return s
}

func (s *Store) resolve(p string) (foundry.DatasetRef, error) {
	alias := path.Base(path.Clean("/" + strings.TrimSpace(p)))
	if alias == "/" || alias == "." {
		return foundry.DatasetRef{}, fmt.Errorf("foundry location %q has no dataset alias", p)
	}
	if ref, ok := s.aliases[alias]; ok {
		return ref, nil
	}
	if strings.HasPrefix(alias, "ri.") {
		return foundry.DatasetRef{RID: alias}, nil
	}
	return foundry.DatasetRef{}, fmt.Errorf("foundry alias %q not found in RESOURCE_ALIAS_MAP", alias)
}

// Read returns the part file of the dataset's latest committed transaction.
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	ref, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	var txnRID string
	if err := retryTransient(ctx, s.attempts, s.initialSleep, func() error {
		var err error
		txnRID, err = s.client.GetBranchTransactionRID(ctx, ref.RID, ref.Branch)
		return err
	}); err != nil {
		return nil, err
	}

	var out []byte
	err = retryTransient(ctx, s.attempts, s.initialSleep, func() error {
		var err error
		out, err = s.client.ReadFile(ctx, ref.RID, ref.Branch, txnRID, pipelineio.PartFileName)
		return err
	})
	return out, err
}

// Replace writes data as the only file of a new SNAPSHOT transaction.
func (s *Store) Replace(ctx context.Context, p string, data []byte) error {
	ref, err := s.resolve(p)
	if err != nil {
		return err
	}
	return UploadDatasetFile(ctx, s.client, ref, pipelineio.PartFileName, data, s.attempts, s.initialSleep)
}

// UploadDatasetFile uploads one file into a SNAPSHOT transaction on the
// output dataset and commits it.
//
// When the dataset already has an OPEN transaction (a build-owned
// transaction), the file is uploaded into it and the commit is left to its
// owner.
func UploadDatasetFile(ctx context.Context, client *foundry.Client, ref foundry.DatasetRef, filename string, data []byte, attempts int, initialSleep time.Duration) error {
	var txnID string
	createdTxn := true
	err := retryTransient(ctx, attempts, initialSleep, func() error {
		var err error
		txnID, err = client.CreateTransaction(ctx, ref.RID, ref.Branch)
		return err
	})
	if err != nil {
		if !isOpenTransactionAlreadyExists(err) {
			return err
		}
		createdTxn = false

		var ok bool
		err = retryTransient(ctx, attempts, initialSleep, func() error {
			var err error
			txnID, ok, err = client.FindLatestOpenTransaction(ctx, ref.RID)
			return err
		})
		if err != nil {
			return err
		}
		if !ok || txnID == "" {
			return fmt.Errorf("output dataset has an open transaction but listTransactions returned none")
		}
	}

	if err := retryTransient(ctx, attempts, initialSleep, func() error {
		return client.UploadFile(ctx, ref.RID, txnID, filename, "text/plain", data)
	}); err != nil {
		if createdTxn {
			// Best effort; the upload error is the one worth reporting.
			_ = client.AbortTransaction(context.WithoutCancel(ctx), ref.RID, txnID)
		}
		return err
	}

	if createdTxn {
		if err := retryTransient(ctx, attempts, initialSleep, func() error {
			return client.CommitTransaction(ctx, ref.RID, txnID)
		}); err != nil {
			return err
		}
	}
	return nil
}

func isOpenTransactionAlreadyExists(err error) bool {
	return foundry.IsStatus(err, http.StatusConflict) &&
		foundry.IsErrorName(err, foundry.ErrorNameOpenTransactionAlreadyExists)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var he *foundry.HTTPError
	if errors.As(err, &he) {
		return he.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func retryTransient(ctx context.Context, attempts int, initialSleep time.Duration, f func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	sleep := initialSleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := f()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || i == attempts-1 {
			return err
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep *= 2
		if sleep > 2*time.Second {
			sleep = 2 * time.Second
		}
	}
	return lastErr
}
