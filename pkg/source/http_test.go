package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siostam/siostam/pkg/errors"
)

func TestHTTPOriginFetch(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[{"service":{"id":"a"},"dependencies":[{"id":"b"}]}]`))
	}))
	defer srv.Close()

	o := NewHTTPOrigin("test", srv.URL, WithToken("secret"))
	descs, err := o.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(descs) != 1 || descs[0].Service.ID != "a" {
		t.Errorf("descs = %+v", descs)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestHTTPOriginRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"service":{"id":"a"}}]`))
	}))
	defer srv.Close()

	o := NewHTTPOrigin("flaky", srv.URL, WithTimeout(5*time.Second))
	descs, err := o.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch after retries: %v", err)
	}
	if len(descs) != 1 {
		t.Errorf("descs = %+v", descs)
	}
	if calls.Load() != 3 {
		t.Errorf("server called %d times, want 3", calls.Load())
	}
}

func TestHTTPOriginClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	o := NewHTTPOrigin("denied", srv.URL)
	_, err := o.Fetch(context.Background())
	if !errors.Is(err, errors.ErrCodeFetchFailed) {
		t.Fatalf("err = %v, want FETCH_FAILED", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx retried %d times, want 1 attempt", calls.Load())
	}
}

func TestHTTPOriginMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"services": "not an array"`))
	}))
	defer srv.Close()

	o := NewHTTPOrigin("broken", srv.URL)
	_, err := o.Fetch(context.Background())
	if !errors.Is(err, errors.ErrCodeFetchMalformed) {
		t.Fatalf("err = %v, want FETCH_MALFORMED", err)
	}
}

func TestHTTPOriginTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	o := NewHTTPOrigin("slow", srv.URL, WithTimeout(50*time.Millisecond))
	_, err := o.Fetch(context.Background())
	if !errors.Is(err, errors.ErrCodeFetchTimeout) {
		t.Fatalf("err = %v, want FETCH_TIMEOUT", err)
	}
}

func TestFileOrigin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.json")
	if err := os.WriteFile(path, []byte(`[{"service":{"id":"local"}}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	o := NewFileOrigin("local", path)
	descs, err := o.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(descs) != 1 || descs[0].Service.ID != "local" {
		t.Errorf("descs = %+v", descs)
	}
}

func TestFileOriginErrors(t *testing.T) {
	dir := t.TempDir()

	missing := NewFileOrigin("missing", filepath.Join(dir, "nope.json"))
	if _, err := missing.Fetch(context.Background()); !errors.Is(err, errors.ErrCodeFetchFailed) {
		t.Errorf("missing file: err = %v, want FETCH_FAILED", err)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{{{`), 0o644)
	malformed := NewFileOrigin("bad", bad)
	if _, err := malformed.Fetch(context.Background()); !errors.Is(err, errors.ErrCodeFetchMalformed) {
		t.Errorf("malformed file: err = %v, want FETCH_MALFORMED", err)
	}
}
