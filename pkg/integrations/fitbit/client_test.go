package fitbit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fitglue/coach-sync/pkg/fetcher"
)

func TestListPage_FollowsPaginationAndStopsAtUntil(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/1/user/-/activities/list.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch q.Get("offset") {
		case "0":
			if q.Get("afterDate") != "2024-05-01T00:00:00" || q.Get("sort") != "asc" || q.Get("limit") != "2" {
				t.Errorf("query = %s", r.URL.RawQuery)
			}
			fmt.Fprintf(w, `{"activities":[{"logId":1,"startTime":"2024-05-01T07:00:00.000+00:00"},{"logId":2,"startTime":"2024-05-01T18:00:00.000+00:00"}],
				"pagination":{"next":"%s/1/user/-/activities/list.json?offset=2&limit=2&sort=asc&afterDate=2024-05-01T00:00:00"}}`, srv.URL)
		case "2":
			fmt.Fprint(w, `{"activities":[{"logId":3,"startTime":"2024-05-01T20:00:00.000+00:00"},{"logId":4,"startTime":"2024-05-02T08:00:00.000+00:00"}],
				"pagination":{"next":"https://api.fitbit.com/should-not-be-followed"}}`)
		}
	}))
	defer srv.Close()

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := fetcher.Query{Since: since, Until: since.Add(24 * time.Hour), PageSize: 2}
	c := NewClient(srv.Client(), WithBaseURL(srv.URL))

	first, err := c.ListPage(context.Background(), q, "")
	if err != nil {
		t.Fatalf("ListPage() error = %v", err)
	}
	if len(first.Activities) != 2 || first.Next == "" {
		t.Fatalf("first page = %d activities, next %q", len(first.Activities), first.Next)
	}

	second, err := c.ListPage(context.Background(), q, first.Next)
	if err != nil {
		t.Fatalf("ListPage() error = %v", err)
	}
	if len(second.Activities) != 1 {
		t.Errorf("second page kept %d activities, want 1 inside the window", len(second.Activities))
	}
	if second.Next != "" {
		t.Errorf("Next = %q, want end of listing", second.Next)
	}
}

func TestListPage_RefusesForeignCursor(t *testing.T) {
	c := NewClient(http.DefaultClient, WithBaseURL("https://api.fitbit.com"))
	_, err := c.ListPage(context.Background(), fetcher.Query{}, "https://evil.example/steal")
	if !errors.Is(err, fetcher.ErrBadRequest) {
		t.Errorf("error = %v, want ErrBadRequest", err)
	}
}

func TestListPage_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), WithBaseURL(srv.URL)).ListPage(context.Background(), fetcher.Query{}, "")
	var decodeErr *fetcher.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("error = %v, want *DecodeError", err)
	}
}
