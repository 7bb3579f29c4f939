package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrStore wraps persistence failures. Authorization paths treat it as deny.
	ErrStore = errors.New("store error")
	// ErrUnauthorizedChannel rejects a device channel with a missing or unknown token.
	ErrUnauthorizedChannel = errors.New("unauthorized channel")
	// ErrMalformedMessage marks an inbound event that cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownCredential is reported when a tag matches no card.
	ErrUnknownCredential = errors.New("unknown credential")
	// ErrFlagNotFound is reported for flags that were never registered. Readers treat it as false.
	ErrFlagNotFound = errors.New("feature flag not found")
)
