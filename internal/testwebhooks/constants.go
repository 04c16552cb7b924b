package testwebhooks

import "time"

// HTTP status code constants.
const (
	StatusOK              = 200
	StatusAccepted        = 202
	StatusUnauthorized    = 401
	StatusTooManyRequests = 429
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DrainPollInterval    = 500 * time.Millisecond
	DrainWaitTimeout     = 2 * time.Minute
	PercentageMultiplier = 100
)

// Verification constants.
const (
	SpotCheckAccounts = 5
	FailureListLimit  = 200
	FailureDisplayMax = 10
)
