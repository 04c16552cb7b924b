package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrWriteContention   = errors.New("write contention not resolved")
	ErrNotReplayable     = errors.New("raw event is not replayable")
)
