package testwebhooks

import (
	"encoding/json"
	"time"
)

// Config holds configuration for the webhook load test
type Config struct {
	BaseURL    string            // Base URL of the service
	NumEvents  int               // Number of provider callbacks to generate
	NumUsers   int               // Number of distinct linked accounts
	Workers    int               // Number of concurrent workers
	Timeout    time.Duration     // HTTP request timeout
	OutputFile string            // Output file for generated callbacks
	LogFile    string            // Log file for test output
	Verbose    bool              // Enable verbose logging
	Seed       bool              // Link the synthetic accounts before submitting
	DBDriver   string            // Store driver used for seeding
	DBDSN      string            // Store DSN used for seeding
	Secrets    map[string]string // Per-provider webhook secrets
}

// Webhook is one pre-built provider callback. The body is signed at
// submission time so timestamped signatures land inside the replay window.
type Webhook struct {
	Provider     string          `json:"provider"`
	Kind         string          `json:"kind"`
	DeviceUserID string          `json:"device_user_id"`
	UserID       string          `json:"user_id"`
	Body         json.RawMessage `json:"body"`
}

// ackResponse represents the intake acknowledgement for a callback
type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// serviceStats mirrors the fields of the /stats document the test reads
type serviceStats struct {
	Started   bool             `json:"started"`
	Queue     queueStats       `json:"queue"`
	RawEvents map[string]int64 `json:"raw_events"`
}

// queueStats is the queue section of the /stats document
type queueStats struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

// rawEventView is the slice of a stored raw event the verification step reads
type rawEventView struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	EventType     string `json:"event_type"`
	FailureReason string `json:"failure_reason"`
}

// Stats holds load test statistics
type Stats struct {
	ConnectionsSeeded int
	WebhooksGenerated int
	WebhooksSubmitted int
	WebhooksAccepted  int
	WebhooksIgnored   int
	WebhooksRejected  int
	WebhooksThrottled int
	WebhooksFailed    int
	ProcessedDelta    int64
	FailedDelta       int64
	PendingAtEnd      int64
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
