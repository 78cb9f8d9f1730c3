package sentry

import (
	"testing"

	"github.com/getsentry/sentry-go"
)

func TestScrubRemovesCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{Headers: map[string]string{
		"Authorization": "Bearer abc",
		"X-Api-Key":     "key",
		"Content-Type":  "application/json",
	}}}

	got := scrub(event, nil)
	if _, ok := got.Request.Headers["Authorization"]; ok {
		t.Error("Authorization header survived")
	}
	if _, ok := got.Request.Headers["X-Api-Key"]; ok {
		t.Error("X-Api-Key header survived")
	}
	if got.Request.Headers["Content-Type"] != "application/json" {
		t.Error("unrelated header removed")
	}
}

func TestInitWithoutDSN(t *testing.T) {
	if err := Init(Config{}, nil); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	// No client bound: captures are dropped silently.
	CaptureException(nil, nil, nil)
	CaptureMessage("run partially failed", sentry.LevelWarning, map[string]string{"provider": "strava"}, nil)
}
