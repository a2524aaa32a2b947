package foundry

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
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBranch = "master"

	// openTxnScanPages bounds how far back FindLatestOpenTransaction looks.
	openTxnScanPages = 5
	openTxnPageSize  = 100
)

// Client talks to the Foundry dataset API: branch heads, file content and
// SNAPSHOT transactions. It is safe for concurrent use.
type Client struct {
	base  *url.URL
	token string
	hc    *http.Client
}

// NewClient returns a client for apiGatewayURL, which looks like
// "https://<stack>.palantirfoundry.com/api". A non-empty caPath replaces the
// system roots with the PEM bundle at that path.
func NewClient(apiGatewayURL, token, caPath string) (*Client, error) {
	base, err := gatewayURL(apiGatewayURL)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if caPath = strings.TrimSpace(caPath); caPath != "" {
		roots, err := loadCertPool(caPath)
		if err != nil {
			return nil, err
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		hc:    &http.Client{Transport: tr, Timeout: time.Minute},
	}, nil
}

func gatewayURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("api gateway URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api gateway URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api gateway URL %q has no host", raw)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: strings.TrimRight(u.Path, "/")}, nil
}

func loadCertPool(caPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("DEFAULT_CA_PATH %s holds no PEM certificates", caPath)
	}
	return roots, nil
}

// endpoint is one API call: the operation name used in errors, the method,
// the path below the gateway and its query.
type endpoint struct {
	op     string
	method string
	path   string
	query  url.Values
}

func datasetEndpoint(op, method, rid string, segments ...string) endpoint {
	p := "/v2/datasets/" + url.PathEscape(strings.TrimSpace(rid))
	for _, s := range segments {
		p += "/" + s
	}
	return endpoint{op: op, method: method, path: p, query: url.Values{}}
}

func (c *Client) url(ep endpoint) string {
	// Segments in ep.path are already escaped.
	s := c.base.Scheme + "://" + c.base.Host + c.base.EscapedPath() + ep.path
	if q := ep.query.Encode(); q != "" {
		s += "?" + q
	}
	return s
}

// send performs ep and returns the response body. Non-2xx responses become
// *HTTPError.
func (c *Client) send(ctx context.Context, ep endpoint, body []byte, contentType string) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, ep.method, c.url(ep), rd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ep.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ep.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", ep.op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(ep.op, resp, out)
	}
	return out, nil
}

func (c *Client) sendJSON(ctx context.Context, ep endpoint, body []byte, contentType string, into any) error {
	raw, err := c.send(ctx, ep, body, contentType)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%s: decode response: %w", ep.op, err)
	}
	return nil
}

// GetBranchTransactionRID returns the head transaction of branch, or "" when
// nothing was committed to it yet.
func (c *Client) GetBranchTransactionRID(ctx context.Context, datasetRID, branch string) (string, error) {
	if strings.TrimSpace(datasetRID) == "" {
		return "", fmt.Errorf("dataset rid is required")
	}
	ep := datasetEndpoint("getBranch", http.MethodGet, datasetRID, "branches", url.PathEscape(branchOrDefault(branch)))
	var head struct {
		Name           string `json:"name"`
		TransactionRID string `json:"transactionRid"`
	}
	if err := c.sendJSON(ctx, ep, nil, "", &head); err != nil {
		return "", err
	}
	return strings.TrimSpace(head.TransactionRID), nil
}

// ReadFile returns filePath as seen on branch, pinned to txnRID when set.
func (c *Client) ReadFile(ctx context.Context, datasetRID, branch, txnRID, filePath string) ([]byte, error) {
	ep := datasetEndpoint("getFileContent", http.MethodGet, datasetRID, "files", escapeFilePath(filePath), "content")
	ep.query.Set("branchName", branchOrDefault(branch))
	if txnRID = strings.TrimSpace(txnRID); txnRID != "" {
		ep.query.Set("endTransactionRid", txnRID)
	}
	return c.send(ctx, ep, nil, "")
}

// Transaction is one entry of a dataset's transaction history.
type Transaction struct {
	TransactionType string  `json:"transactionType"`
	CreatedTime     string  `json:"createdTime"`
	RID             string  `json:"rid"`
	ClosedTime      *string `json:"closedTime,omitempty"`
	Status          string  `json:"status"`
}

// CreateTransaction opens a SNAPSHOT transaction on branch.
func (c *Client) CreateTransaction(ctx context.Context, datasetRID, branch string) (string, error) {
	ep := datasetEndpoint("createTransaction", http.MethodPost, datasetRID, "transactions")
	ep.query.Set("branchName", branchOrDefault(branch))

	var txn Transaction
	if err := c.sendJSON(ctx, ep, []byte(`{"transactionType":"SNAPSHOT"}`), "application/json", &txn); err != nil {
		return "", err
	}
	rid := strings.TrimSpace(txn.RID)
	if rid == "" {
		return "", fmt.Errorf("createTransaction: response has no rid")
	}
	return rid, nil
}

// ListTransactions returns one page of transactions, newest first, and the
// token of the next page. It calls a preview endpoint.
func (c *Client) ListTransactions(ctx context.Context, datasetRID string, pageSize int, pageToken string) ([]Transaction, string, error) {
	ep := datasetEndpoint("listTransactions", http.MethodGet, datasetRID, "transactions")
	ep.query.Set("preview", "true")
	if pageSize > 0 {
		ep.query.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken = strings.TrimSpace(pageToken); pageToken != "" {
		ep.query.Set("pageToken", pageToken)
	}

	var page struct {
		Data          []Transaction `json:"data"`
		NextPageToken string        `json:"nextPageToken"`
	}
	if err := c.sendJSON(ctx, ep, nil, "", &page); err != nil {
		return nil, "", err
	}
	return page.Data, strings.TrimSpace(page.NextPageToken), nil
}

// FindLatestOpenTransaction returns the newest OPEN transaction, if any.
func (c *Client) FindLatestOpenTransaction(ctx context.Context, datasetRID string) (string, bool, error) {
	token := ""
	for i := 0; i < openTxnScanPages; i++ {
		txns, next, err := c.ListTransactions(ctx, datasetRID, openTxnPageSize, token)
		if err != nil {
			return "", false, err
		}
		for _, t := range txns {
			rid := strings.TrimSpace(t.RID)
			if rid != "" && strings.EqualFold(strings.TrimSpace(t.Status), "OPEN") {
				return rid, true, nil
			}
		}
		if next == "" {
			return "", false, nil
		}
		token = next
	}
	return "", false, nil
}

// UploadFile stages b at filePath inside the open transaction txnID.
func (c *Client) UploadFile(ctx context.Context, datasetRID, txnID, filePath, contentType string, b []byte) error {
	ep := datasetEndpoint("uploadFile", http.MethodPost, datasetRID, "files", escapeFilePath(filePath), "upload")
	if txnID = strings.TrimSpace(txnID); txnID != "" {
		ep.query.Set("transactionRid", txnID)
	}
	if b == nil {
		b = []byte{}
	}
	_, err := c.send(ctx, ep, b, contentType)
	return err
}

func (c *Client) CommitTransaction(ctx context.Context, datasetRID, txnID string) error {
	_, err := c.send(ctx, txnEndpoint("commitTransaction", datasetRID, txnID, "commit"), nil, "")
	return err
}

// AbortTransaction discards an open transaction and everything staged in it.
func (c *Client) AbortTransaction(ctx context.Context, datasetRID, txnID string) error {
	_, err := c.send(ctx, txnEndpoint("abortTransaction", datasetRID, txnID, "abort"), nil, "")
	return err
}

func txnEndpoint(op, datasetRID, txnID, action string) endpoint {
	return datasetEndpoint(op, http.MethodPost, datasetRID, "transactions", url.PathEscape(txnID), action)
}

func branchOrDefault(branch string) string {
	if b := strings.TrimSpace(branch); b != "" {
		return b
	}
	return defaultBranch
}

// escapeFilePath escapes each segment of a dataset file path, keeping "/".
func escapeFilePath(p string) string {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return ""
	}
	segs := strings.Split(clean, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
