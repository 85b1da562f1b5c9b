package possync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewHTTPClientRequiresURL(t *testing.T) {
	if _, err := NewHTTPClient("  ", time.Second, 0); !errors.Is(err, ErrCentralNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPClientSendsCredentialAndPaths(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/", time.Second, 100)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	rows, err := c.ListForEstablishment(context.Background(), "tok", "order_item", "est-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || gotAuth != "Bearer tok" || gotPath != "/sync/all-for-establishment/order_item" || gotQuery != "establishmentId=est-1" {
		t.Fatalf("rows=%d auth=%q path=%q query=%q", len(rows), gotAuth, gotPath, gotQuery)
	}

	if _, err := c.ListForEstablishment(context.Background(), "tok", "role", ""); err != nil {
		t.Fatalf("global list: %v", err)
	}
	if gotQuery != "" {
		t.Fatalf("global listing sent query %q", gotQuery)
	}
}

func TestHTTPClientClassifiesFailures(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"x"}`))
	}))
	defer srv.Close()
	c, _ := NewHTTPClient(srv.URL, time.Second, 0)

	status = http.StatusNotFound
	if _, err := c.FetchEntity(context.Background(), "tok", "product", "p-1", ""); !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("404: %v", err)
	}

	status = http.StatusServiceUnavailable
	if _, err := c.PushChanges(context.Background(), "tok", nil); !IsTransient(err) {
		t.Fatalf("503: %v", err)
	}

	status = http.StatusForbidden
	_, err := c.PushChanges(context.Background(), "tok", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden || IsTransient(err) {
		t.Fatalf("403: %v", err)
	}

	if _, err := c.PushChanges(context.Background(), "", nil); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("no token: %v", err)
	}
}

func TestHTTPClientUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := NewHTTPClient(url, time.Second, 0)
	if _, err := c.PushChanges(context.Background(), "tok", nil); !IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestHTTPClientTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := NewHTTPClient(srv.URL, 50*time.Millisecond, 0)
	if _, err := c.FetchEntity(context.Background(), "tok", "product", "p-1", "est-1"); !IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}
