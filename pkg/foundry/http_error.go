package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/redact"
)

// Conjure error names returned by the dataset API.
const (
	ErrorNameOpenTransactionAlreadyExists = "OpenTransactionAlreadyExists"
	ErrorNameFileNotFound                 = "FileNotFound"
	ErrorNameTransactionNotFound          = "TransactionNotFound"
	ErrorNameTransactionNotOpen           = "TransactionNotOpen"
)

// maxSnippet bounds how much of a non-Conjure body is kept in an HTTPError.
const maxSnippet = 256

// HTTPError summarizes a non-2xx dataset API response. It never holds the
// raw body: only the Conjure error fields, or a short redacted snippet.
type HTTPError struct {
	Op              string
	StatusCode      int
	Status          string
	ErrorName       string
	ErrorCode       string
	ErrorInstanceID string
	Snippet         string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "foundry http error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "foundry api error: op=%s status=%s", e.Op, e.Status)
	for _, kv := range [][2]string{
		{"errorName", e.ErrorName},
		{"errorCode", e.ErrorCode},
		{"instance", e.ErrorInstanceID},
		{"body", e.Snippet},
	} {
		if kv[1] != "" {
			b.WriteString(" " + kv[0] + "=" + kv[1])
		}
	}
	return b.String()
}

// Temporary reports whether the request may succeed if retried unchanged.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode/100 == 5
}

// IsErrorName reports whether err is an HTTPError with the given Conjure error name.
func IsErrorName(err error, name string) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.ErrorName == name
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env struct {
		ErrorCode       string `json:"errorCode"`
		ErrorName       string `json:"errorName"`
		ErrorInstanceID string `json:"errorInstanceId"`
	}
	if json.Unmarshal(body, &env) == nil {
		h.ErrorName = strings.TrimSpace(env.ErrorName)
		h.ErrorCode = strings.TrimSpace(env.ErrorCode)
		h.ErrorInstanceID = strings.TrimSpace(env.ErrorInstanceID)
	}
	if h.ErrorName == "" && h.ErrorCode == "" && h.ErrorInstanceID == "" {
		h.Snippet = snippet(body)
	}
	return h
}

// snippet returns a redacted single-line prefix of body.
func snippet(body []byte) string {
	truncated := len(body) > maxSnippet
	if truncated {
		body = body[:maxSnippet]
	}
	s := strings.Join(strings.Fields(redact.Secrets(string(body))), " ")
	if s != "" && truncated {
		s += "..."
	}
	return s
}
