package identity

import "errors"

// Sentinel kinds for identity errors.
var (
	ErrUnknownUser = errors.New("no linked account for provider user")
)
