package gqlupload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"image-editor/internal/uploader"
)

func TestUploadSendsMultipartAndReturnsCDNURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Apollo-Require-Preflight"); got != "true" {
			t.Errorf("missing preflight header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		var ops struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(r.FormValue("operations")), &ops); err != nil || ops.Query != uploadMutation {
			t.Errorf("unexpected operations %q", r.FormValue("operations"))
		}
		if r.FormValue("map") != `{"0":["variables.file"]}` {
			t.Errorf("unexpected map %q", r.FormValue("map"))
		}
		f, hdr, err := r.FormFile("0")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "company-logo.png" || string(data) != "img" {
			t.Errorf("unexpected file %s %q", hdr.Filename, data)
		}
		_, _ = w.Write([]byte(`{"data":{"uploadImage":"uploads/abc.png"}}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "https://cdn.example/", StaticToken("Bearer abc"))
	url, err := c.Upload(context.Background(), "company-logo.png", []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.example/uploads/abc.png" {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestUploadReturnsGraphQLError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Not authorized"}],"data":null}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "", nil)
	_, err := c.Upload(context.Background(), "a.png", []byte("x"), "image/png")
	if err == nil || err.Error() != "Not authorized" {
		t.Fatalf("expected GraphQL error message, got %v", err)
	}
	if !uploader.IsPermanent(err) {
		t.Fatalf("expected GraphQL errors to be permanent")
	}
}

func TestUploadEmptyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"uploadImage":""}}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "", nil)
	if _, err := c.Upload(context.Background(), "a.png", []byte("x"), "image/png"); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestUploadHTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "", nil)
	if _, err := c.Upload(context.Background(), "a.png", []byte("x"), "image/png"); err == nil {
		t.Fatalf("expected error for 502")
	} else if uploader.IsPermanent(err) {
		t.Fatalf("expected 502 to be retryable")
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusRequestEntityTooLarge, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		if got := uploader.IsPermanent(statusError(tt.code)); got != tt.permanent {
			t.Fatalf("status %d: expected permanent=%v, got %v", tt.code, tt.permanent, got)
		}
	}
}

func TestRetriedClientStopsOnGraphQLError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"errors":[{"message":"File type not allowed"}],"data":null}`))
	}))
	defer server.Close()

	c := uploader.WithRetry(NewClient(server.Client(), server.URL, "", nil), uploader.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}, nil)
	if _, err := c.Upload(context.Background(), "a.png", []byte("x"), "image/png"); err == nil || err.Error() != "File type not allowed" {
		t.Fatalf("unexpected error %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
}
