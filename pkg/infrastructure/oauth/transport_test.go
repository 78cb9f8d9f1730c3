package oauth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type stubSource struct {
	token    string
	next     string
	forced   atomic.Int32
	rejected string
}

func (s *stubSource) Token(context.Context) (*TokenRecord, error) {
	return &TokenRecord{AccessToken: s.token}, nil
}

func (s *stubSource) ForceRefresh(_ context.Context, rejected string) (*TokenRecord, error) {
	s.forced.Add(1)
	s.rejected = rejected
	s.token = s.next
	return &TokenRecord{AccessToken: s.next}, nil
}

func acceptOnly(valid string, bodies *[]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			b, _ := io.ReadAll(r.Body)
			*bodies = append(*bodies, string(b))
		}
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func TestTransport_RetriesOnceAfter401(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(acceptOnly("fresh", &bodies))
	defer srv.Close()

	src := &stubSource{token: "revoked", next: "fresh"}
	client := NewClient(src, nil)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if src.forced.Load() != 1 {
		t.Errorf("forced refreshes = %d, want 1", src.forced.Load())
	}
	if src.rejected != "revoked" {
		t.Errorf("rejected token = %s, want revoked", src.rejected)
	}
}

func TestTransport_SecondUnauthorizedIsReturned(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(acceptOnly("never", &bodies))
	defer srv.Close()

	src := &stubSource{token: "revoked", next: "also-revoked"}
	resp, err := NewClient(src, nil).Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if src.forced.Load() != 1 {
		t.Errorf("forced refreshes = %d, want exactly 1", src.forced.Load())
	}
}

func TestTransport_ReplaysBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(acceptOnly("fresh", &bodies))
	defer srv.Close()

	src := &stubSource{token: "revoked", next: "fresh"}
	resp, err := NewClient(src, nil).Post(srv.URL, "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(bodies) != 2 || bodies[1] != "payload" {
		t.Errorf("bodies = %q, want payload twice", bodies)
	}
}
