// Package computemodule implements the Foundry compute module job protocol:
// poll GET_JOB_URI for a job, run it, and post the result to POST_RESULT_URI.
package computemodule

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/redact"
)

const (
	postAttempts = 6
	httpTimeout  = 30 * time.Second
)

type jobEnvelope struct {
	ComputeModuleJobV1 Job `json:"computeModuleJobV1"`
}

// Job is one unit of work handed out by the compute module runtime.
type Job struct {
	JobID                         string          `json:"jobId"`
	QueryType                     string          `json:"queryType"`
	Query                         json.RawMessage `json:"query"`
	TemporaryCredentialsAuthToken string          `json:"temporaryCredentialsAuthToken"`
	AuthHeader                    string          `json:"authHeader"`
}

// Handler runs one job and returns the bytes to post as its result.
type Handler func(ctx context.Context, job Job) ([]byte, error)

// Client polls for jobs until its context ends.
type Client struct {
	cfg    Config
	hc     *http.Client
	logger *zap.Logger

	idleSleep time.Duration
	maxSleep  time.Duration
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:       cfg,
		hc:        &http.Client{Timeout: httpTimeout},
		logger:    logger,
		idleSleep: 500 * time.Millisecond,
		maxSleep:  5 * time.Second,
	}
	if cfg.DefaultCAPath != "" {
		pem, err := os.ReadFile(cfg.DefaultCAPath)
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("DEFAULT_CA_PATH %s holds no PEM certificates", cfg.DefaultCAPath)
		}
		c.hc.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12},
		}
	}
	return c, nil
}

// Run hands every job to handle until ctx ends, then returns ctx.Err().
// A failed job still gets a result posted so the runtime records the failure.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	c.logger.Info("polling for compute module jobs", zap.String("get_job_uri", c.cfg.GetJobURI))

	backoff := c.idleSleep
	for {
		job, found, err := c.nextJob(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			c.logger.Warn("get job failed", zap.String("error", redact.Secrets(err.Error())))
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(2*backoff, c.maxSleep)
			continue
		case !found:
			backoff = c.idleSleep
			if err := sleep(ctx, c.idleSleep); err != nil {
				return err
			}
			continue
		}
		backoff = c.idleSleep
		c.handle(ctx, job, handle)
	}
}

func (c *Client) handle(ctx context.Context, job Job, handle Handler) {
	id := strings.TrimSpace(job.JobID)
	if id == "" {
		c.logger.Warn("skipping job without jobId")
		return
	}
	logger := c.logger.With(zap.String("job_id", id))
	logger.Info("job received", zap.String("query_type", strings.TrimSpace(job.QueryType)))

	result, err := handle(ctx, job)
	switch {
	case err != nil:
		msg := redact.Secrets(err.Error())
		logger.Warn("job failed", zap.String("error", msg))
		if len(result) == 0 {
			result = []byte(msg)
		}
	case len(result) == 0:
		result = []byte("ok")
	}

	for attempt := 1; ; attempt++ {
		err := c.postResult(ctx, id, result)
		if err == nil {
			return
		}
		if attempt == postAttempts || sleep(ctx, time.Duration(attempt)*time.Second) != nil {
			logger.Error("post result failed", zap.Int("attempts", attempt), zap.String("error", redact.Secrets(err.Error())))
			return
		}
	}
}

func (c *Client) nextJob(ctx context.Context) (Job, bool, error) {
	status, body, err := c.call(ctx, http.MethodGet, c.cfg.GetJobURI, nil)
	if err != nil {
		return Job{}, false, fmt.Errorf("get job: %w", err)
	}
	if status == http.StatusNoContent {
		return Job{}, false, nil
	}
	if status/100 != 2 {
		return Job{}, false, fmt.Errorf("get job: status=%d body=%s", status, bytes.TrimSpace(body))
	}
	var env jobEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Job{}, false, fmt.Errorf("decode job: %w", err)
	}
	return env.ComputeModuleJobV1, true, nil
}

func (c *Client) postResult(ctx context.Context, jobID string, result []byte) error {
	target := strings.TrimRight(c.cfg.PostResultURI, "/") + "/" + url.PathEscape(jobID)
	status, body, err := c.call(ctx, http.MethodPost, target, result)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	if status/100 != 2 {
		return fmt.Errorf("post result: status=%d body=%s", status, bytes.TrimSpace(body))
	}
	return nil
}

// call sends one authenticated request and returns the status and body.
func (c *Client) call(ctx context.Context, method, target string, payload []byte) (int, []byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Module-Auth-Token", c.cfg.ModuleAuthToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
