package normalize

import "errors"

// Sentinel kinds for normalization errors.
var (
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingUser      = errors.New("payload carries no provider user id")
)
