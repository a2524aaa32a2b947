// Package mockfoundry serves a minimal Foundry dataset API for local harness
// runs and tests.
package mockfoundry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/foundry"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Upload records a file upload into a dataset transaction.
type Upload struct {
	DatasetRID string
	TxnID      string
	FilePath   string
	Bytes      []byte
}

// Server implements the dataset endpoints used by pkg/foundry.Client.
//
// Committed SNAPSHOT contents are persisted under dataDir as
// <dataDir>/<rid>/<file path> when dataDir is set, and reloaded from there on
// read. Files placed there by hand act as seeded dataset contents.
type Server struct {
	dataDir string

	mu      sync.Mutex
	calls   []Call
	uploads []Upload

	expectedAuthorization string

	nextTxn int
	// txns is keyed by transaction RID; order lists RIDs per dataset, oldest first.
	txns  map[string]*txnState
	order map[string][]string

	// heads holds the files of the latest committed transaction per dataset.
	heads map[string]map[string][]byte
}

type txnState struct {
	rid        string
	datasetRID string
	branch     string
	status     string
	created    time.Time
	closed     time.Time
	files      map[string][]byte
}

const (
	statusOpen      = "OPEN"
	statusCommitted = "COMMITTED"
	statusAborted   = "ABORTED"
)

func New(dataDir string) *Server {
	return &Server{
		dataDir: dataDir,
		nextTxn: 1,
		txns:    make(map[string]*txnState),
		order:   make(map[string][]string),
		heads:   make(map[string]map[string][]byte),
	}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/datasets/", s.handleDatasets)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Uploads returns a snapshot of uploads made to the server.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" || r.Header.Get("Authorization") == expected {
		return true
	}
	writeConjureError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Default:Unauthorized")
	return false
}

type route struct {
	method string
	match  func(parts []string) bool
	serve  func(w http.ResponseWriter, r *http.Request, rid string, parts []string)
}

func (s *Server) routes() []route {
	return []route{
		// branches/{branch}
		{http.MethodGet, func(p []string) bool { return len(p) == 3 && p[1] == "branches" }, s.handleGetBranch},
		// files/{path...}/content
		{http.MethodGet, func(p []string) bool { return len(p) >= 4 && p[1] == "files" && p[len(p)-1] == "content" }, s.handleReadFile},
		// files/{path...}/upload
		{http.MethodPost, func(p []string) bool { return len(p) >= 4 && p[1] == "files" && p[len(p)-1] == "upload" }, s.handleUpload},
		// transactions
		{http.MethodPost, func(p []string) bool { return len(p) == 2 && p[1] == "transactions" }, s.handleCreateTransaction},
		{http.MethodGet, func(p []string) bool { return len(p) == 2 && p[1] == "transactions" }, s.handleListTransactions},
		// transactions/{txn}/commit|abort
		{http.MethodPost, func(p []string) bool {
			return len(p) == 4 && p[1] == "transactions" && (p[3] == "commit" || p[3] == "abort")
		}, s.handleCloseTransaction},
	}
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v2/datasets/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || !isSafeToken(parts[0]) {
		writeConjureError(w, http.StatusNotFound, "NOT_FOUND", "Default:NotFound")
		return
	}

	matched := false
	for _, rt := range s.routes() {
		if !rt.match(parts) {
			continue
		}
		matched = true
		if rt.method == r.Method {
			rt.serve(w, r, parts[0], parts)
			return
		}
	}
	if matched {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeConjureError(w, http.StatusNotFound, "NOT_FOUND", "Default:NotFound")
}

func (s *Server) handleGetBranch(w http.ResponseWriter, _ *http.Request, rid string, parts []string) {
	branch := parts[2]

	s.mu.Lock()
	var latest string
	for _, id := range s.order[rid] {
		if t := s.txns[id]; t.status == statusCommitted && t.branch == branch {
			latest = id
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]string{"name": branch, "transactionRid": latest})
}

func (s *Server) handleReadFile(w http.ResponseWriter, _ *http.Request, rid string, parts []string) {
	filePath := strings.Join(parts[2:len(parts)-1], "/")
	if !isSafeFilePath(filePath) {
		writeConjureError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}

	s.mu.Lock()
	b, ok := s.heads[rid][filePath]
	s.mu.Unlock()
	if !ok && s.dataDir != "" {
		// Committed state survives restarts on disk.
		if disk, err := os.ReadFile(filepath.Join(s.dataDir, rid, filepath.FromSlash(filePath))); err == nil {
			b, ok = disk, true
		}
	}
	if !ok {
		writeConjureError(w, http.StatusNotFound, "NOT_FOUND", foundry.ErrorNameFileNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(b)
}

type createTxnReq struct {
	TransactionType string `json:"transactionType"`
}

type txnJSON struct {
	TransactionType string  `json:"transactionType"`
	CreatedTime     string  `json:"createdTime"`
	RID             string  `json:"rid"`
	ClosedTime      *string `json:"closedTime,omitempty"`
	Status          string  `json:"status"`
}

func (t *txnState) json() txnJSON {
	out := txnJSON{
		TransactionType: "SNAPSHOT",
		CreatedTime:     t.created.UTC().Format(time.RFC3339Nano),
		RID:             t.rid,
		Status:          t.status,
	}
	if !t.closed.IsZero() {
		c := t.closed.UTC().Format(time.RFC3339Nano)
		out.ClosedTime = &c
	}
	return out
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request, rid string, _ []string) {
	var req createTxnReq
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		if err := json.Unmarshal(b, &req); err != nil {
			writeConjureError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
			return
		}
	}
	if req.TransactionType != "" && req.TransactionType != "SNAPSHOT" {
		writeConjureError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	branch := strings.TrimSpace(r.URL.Query().Get("branchName"))
	if branch == "" {
		branch = "master"
	}

	s.mu.Lock()
	for _, id := range s.order[rid] {
		if t := s.txns[id]; t.status == statusOpen && t.branch == branch {
			s.mu.Unlock()
			writeConjureError(w, http.StatusConflict, "CONFLICT", foundry.ErrorNameOpenTransactionAlreadyExists)
			return
		}
	}
	txn := &txnState{
		rid:        fmt.Sprintf("ri.foundry.main.transaction.%08d", s.nextTxn),
		datasetRID: rid,
		branch:     branch,
		status:     statusOpen,
		created:    time.Now(),
		files:      make(map[string][]byte),
	}
	s.nextTxn++
	s.txns[txn.rid] = txn
	s.order[rid] = append(s.order[rid], txn.rid)
	out := txn.json()
	s.mu.Unlock()

	writeJSON(w, out)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request, rid string, _ []string) {
	if r.URL.Query().Get("preview") != "true" {
		writeConjureError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "ApiFeaturePreviewUsageOnly")
		return
	}

	s.mu.Lock()
	ids := s.order[rid]
	data := make([]txnJSON, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		data = append(data, s.txns[ids[i]].json())
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"data": data})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, rid string, parts []string) {
	filePath := strings.Join(parts[2:len(parts)-1], "/")
	if !isSafeFilePath(filePath) {
		writeConjureError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	txnID := strings.TrimSpace(r.URL.Query().Get("transactionRid"))

	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeConjureError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[txnID]
	if !ok || txn.datasetRID != rid {
		writeConjureError(w, http.StatusNotFound, "NOT_FOUND", foundry.ErrorNameTransactionNotFound)
		return
	}
	if txn.status != statusOpen {
		writeConjureError(w, http.StatusConflict, "CONFLICT", foundry.ErrorNameTransactionNotOpen)
		return
	}
	txn.files[filePath] = b
	s.uploads = append(s.uploads, Upload{DatasetRID: rid, TxnID: txnID, FilePath: filePath, Bytes: b})

	writeJSON(w, map[string]string{"path": filePath, "transactionRid": txnID})
}

func (s *Server) handleCloseTransaction(w http.ResponseWriter, _ *http.Request, rid string, parts []string) {
	txnID, action := parts[2], parts[3]

	s.mu.Lock()
	txn, ok := s.txns[txnID]
	if !ok || txn.datasetRID != rid {
		s.mu.Unlock()
		writeConjureError(w, http.StatusNotFound, "NOT_FOUND", foundry.ErrorNameTransactionNotFound)
		return
	}
	if txn.status != statusOpen {
		s.mu.Unlock()
		writeConjureError(w, http.StatusConflict, "CONFLICT", foundry.ErrorNameTransactionNotOpen)
		return
	}
	if action == "abort" {
		txn.status = statusAborted
		txn.closed = time.Now()
		out := txn.json()
		s.mu.Unlock()
		writeJSON(w, out)
		return
	}
	if len(txn.files) == 0 {
		s.mu.Unlock()
		writeConjureError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	files := make(map[string][]byte, len(txn.files))
	for k, v := range txn.files {
		files[k] = v
	}
	s.mu.Unlock()

	if err := s.persist(rid, files); err != nil {
		writeConjureError(w, http.StatusInternalServerError, "INTERNAL", "Default:Internal")
		return
	}

	s.mu.Lock()
	if txn.status != statusOpen {
		s.mu.Unlock()
		writeConjureError(w, http.StatusConflict, "CONFLICT", foundry.ErrorNameTransactionNotOpen)
		return
	}
	txn.status = statusCommitted
	txn.closed = time.Now()
	// SNAPSHOT: the committed files replace the dataset view.
	s.heads[rid] = files
	out := txn.json()
	s.mu.Unlock()

	writeJSON(w, out)
}

// persist mirrors a committed snapshot to disk, replacing the previous one.
func (s *Server) persist(rid string, files map[string][]byte) error {
	if s.dataDir == "" {
		return nil
	}
	dir := filepath.Join(s.dataDir, rid)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, files[name], 0644); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeConjureError(w http.ResponseWriter, status int, code, name string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"errorCode":       code,
		"errorName":       name,
		"errorInstanceId": fmt.Sprintf("mock-%d", time.Now().UnixNano()),
	})
}

func isSafeToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\")
}

func isSafeFilePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
