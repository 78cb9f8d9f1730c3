// Package webhook verifies Strava push subscriptions and event deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrHandshakeInvalid     = errors.New("webhook handshake invalid")
	ErrEventUnauthenticated = errors.New("webhook event unauthenticated")
	ErrEventMalformed       = errors.New("webhook event malformed")
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body, keyed with the client secret.
const SignatureHeader = "X-Strava-Signature"

// Action is what the service should do about a verified event.
type Action int

const (
	ActionIgnore Action = iota
	ActionSync
	ActionDeauthorize
)

func (a Action) String() string {
	switch a {
	case ActionSync:
		return "sync"
	case ActionDeauthorize:
		return "deauthorize"
	default:
		return "ignore"
	}
}

// Event is a Strava push event.
type Event struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates"`
}

// Action classifies the event. Activity deletions are acknowledged and ignored.
func (e *Event) Action() Action {
	switch e.ObjectType {
	case "activity":
		if e.AspectType == "create" || e.AspectType == "update" {
			return ActionSync
		}
	case "athlete":
		if e.AspectType == "update" && e.Updates["authorized"] == "false" {
			return ActionDeauthorize
		}
	}
	return ActionIgnore
}

// UserID is the owning athlete, which is also the account key in the token vault.
func (e *Event) UserID() string {
	return strconv.FormatInt(e.OwnerID, 10)
}

// ActivityID is the activity the event refers to.
func (e *Event) ActivityID() string {
	return strconv.FormatInt(e.ObjectID, 10)
}

// StravaVerifier holds the subscription verify token and the client secret
// used to sign deliveries.
type StravaVerifier struct {
	verifyToken   string
	signingSecret []byte
}

func NewStravaVerifier(verifyToken, clientSecret string) *StravaVerifier {
	return &StravaVerifier{verifyToken: verifyToken, signingSecret: []byte(clientSecret)}
}

// VerifyHandshake answers a subscription challenge. It returns the value to
// echo back as hub.challenge.
func (v *StravaVerifier) VerifyHandshake(mode, challenge, verifyToken string) (string, error) {
	if mode != "subscribe" {
		return "", fmt.Errorf("%w: hub.mode %q", ErrHandshakeInvalid, mode)
	}
	if challenge == "" {
		return "", fmt.Errorf("%w: empty challenge", ErrHandshakeInvalid)
	}
	if v.verifyToken == "" || !hmac.Equal([]byte(verifyToken), []byte(v.verifyToken)) {
		return "", fmt.Errorf("%w: verify token mismatch", ErrHandshakeInvalid)
	}
	return challenge, nil
}

// AuthenticateEvent checks the signature over the raw body before decoding it.
// Nothing in payload is trusted until this returns nil.
func (v *StravaVerifier) AuthenticateEvent(payload []byte, signature string) (*Event, error) {
	if len(v.signingSecret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrEventUnauthenticated)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if signature == "" || err != nil {
		return nil, fmt.Errorf("%w: missing or non-hex signature", ErrEventUnauthenticated)
	}
	if !hmac.Equal(sig, Sign(v.signingSecret, payload)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrEventUnauthenticated)
	}

	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventMalformed, err)
	}
	if e.ObjectType == "" || e.AspectType == "" || e.OwnerID <= 0 || e.ObjectID <= 0 {
		return nil, fmt.Errorf("%w: missing object or owner", ErrEventMalformed)
	}
	return &e, nil
}

// Sign computes the HMAC-SHA256 of payload.
func Sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// AckStatus is the HTTP status to answer a rejected delivery with. Malformed
// events are acknowledged so the provider stops redelivering them; bad
// signatures are refused; anything else is reported as temporarily unavailable
// so the provider retries.
func AckStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrEventMalformed):
		return http.StatusOK
	case errors.Is(err, ErrEventUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrHandshakeInvalid):
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
