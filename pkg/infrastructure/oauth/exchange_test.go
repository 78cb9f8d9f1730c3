package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOAuth2Exchanger_Strava(t *testing.T) {
	expiresAt := time.Now().Add(6 * time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %s", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-old" {
			t.Errorf("refresh_token = %s", got)
		}
		if got := r.PostForm.Get("client_id"); got != "cid" {
			t.Errorf("client_id = %s, want credentials in the body", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"access-new","refresh_token":"refresh-new","expires_in":21600,"expires_at":%d}`, expiresAt)
	}))
	defer srv.Close()

	ex, err := NewOAuth2Exchanger(map[string]ClientCredentials{
		"strava": {ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL},
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewOAuth2Exchanger() error = %v", err)
	}

	rec, err := ex.Exchange(context.Background(), "strava", "refresh-old")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if rec.AccessToken != "access-new" || rec.RefreshToken != "refresh-new" {
		t.Errorf("Exchange() = %+v", rec)
	}
	if rec.ExpiresAt.Unix() != expiresAt {
		t.Errorf("ExpiresAt = %d, want %d", rec.ExpiresAt.Unix(), expiresAt)
	}
}

func TestOAuth2Exchanger_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	ex, _ := NewOAuth2Exchanger(map[string]ClientCredentials{
		"fitbit": {ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL},
	}, srv.Client())

	if _, err := ex.Exchange(context.Background(), "fitbit", "dead"); err == nil {
		t.Fatal("Exchange() error = nil, want provider rejection")
	}
}

func TestNewOAuth2Exchanger_UnknownProvider(t *testing.T) {
	if _, err := NewOAuth2Exchanger(map[string]ClientCredentials{"garmin": {}}, nil); err == nil {
		t.Fatal("NewOAuth2Exchanger() error = nil, want unsupported provider")
	}
}
