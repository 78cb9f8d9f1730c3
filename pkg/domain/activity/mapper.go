package activity

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField        = errors.New("required field missing")
	ErrMalformedField      = errors.New("field malformed")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// MappingError reports a payload that cannot become an Activity.
// It is fatal to that one record only.
type MappingError struct {
	Provider   Provider
	ExternalID string
	Field      string
	Err        error
}

func (e *MappingError) Error() string {
	id := e.ExternalID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("map %s activity %s: %s: %v", e.Provider, id, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Mapper turns one provider payload into an Activity.
type Mapper interface {
	Map(raw RawActivity) (*Activity, error)
}

var mappers = map[Provider]Mapper{
	ProviderStrava: StravaMapper{},
	ProviderFitbit: FitbitMapper{},
}

// Map dispatches raw to the mapper registered for its provider.
func Map(raw RawActivity) (*Activity, error) {
	m, ok := mappers[raw.Provider]
	if !ok {
		return nil, &MappingError{Provider: raw.Provider, Field: "provider", Err: ErrUnsupportedProvider}
	}
	return m.Map(raw)
}

// positive drops zero and negative readings, which providers use for "no sensor".
func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}
