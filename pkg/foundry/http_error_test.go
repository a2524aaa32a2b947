package foundry

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNewHTTPError_ConjureEnvelope(t *testing.T) {
	resp := &http.Response{StatusCode: 409, Status: "409 Conflict"}
	body := []byte(`{"errorCode":"CONFLICT","errorName":"OpenTransactionAlreadyExists","errorInstanceId":"abc","parameters":{"token":"x"}}`)

	err := fmt.Errorf("upload: %w", newHTTPError("CreateTransaction", resp, body))

	if !IsErrorName(err, ErrorNameOpenTransactionAlreadyExists) || !IsStatus(err, http.StatusConflict) {
		t.Fatalf("classification failed for %v", err)
	}
	want := "upload: foundry api error: op=CreateTransaction status=409 Conflict errorName=OpenTransactionAlreadyExists errorCode=CONFLICT instance=abc"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewHTTPError_SnippetIsRedactedAndTruncated(t *testing.T) {
	resp := &http.Response{StatusCode: 502, Status: "502 Bad Gateway"}
	body := []byte("upstream failed\nAuthorization: Bearer secret-token " + strings.Repeat("x", 400))

	he := newHTTPError("ReadFile", resp, body)
	if !he.Temporary() {
		t.Fatalf("502 must be temporary")
	}
	if strings.Contains(he.Snippet, "secret-token") || strings.Contains(he.Snippet, "\n") {
		t.Fatalf("snippet not sanitized: %q", he.Snippet)
	}
	if !strings.HasSuffix(he.Snippet, "...") {
		t.Fatalf("expected truncation marker, got %q", he.Snippet)
	}
}

func TestHTTPError_Temporary(t *testing.T) {
	for code, want := range map[int]bool{429: true, 500: true, 503: true, 400: false, 404: false, 409: false} {
		if got := (&HTTPError{StatusCode: code}).Temporary(); got != want {
			t.Fatalf("Temporary(%d) = %t, want %t", code, got, want)
		}
	}
}
