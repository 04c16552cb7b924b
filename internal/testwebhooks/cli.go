package testwebhooks

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/vitals/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	// Initialize the logger first
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "webhook_test_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the webhook test tool.
func ShowHelp() {
	os.Stdout.WriteString(`Vitals Webhook Test Tool
========================

A concurrent tool for exercising the vitals ingestion pipeline end to end:
it links synthetic accounts, fires signed provider callbacks, waits for the
queue to drain and checks the stored results.

Usage:
  go run cmd/test-webhooks/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -events int
        Number of callbacks to generate and submit (default 5000)
  -users int
        Number of distinct linked accounts (default 100)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -seed
        Link the synthetic accounts in the store before submitting (default true)
  -db-driver string
        Store driver for seeding: sqlite or postgres (default "sqlite")
  -db-dsn string
        Store DSN for seeding (default "vitals.db")
  -pulseband-secret string
        Pulseband webhook signing secret (default "dev-pb-secret")
  -somnus-secret string
        Somnus webhook signing secret (default "dev-som-secret")
  -trailwatch-token string
        Trailwatch shared callback token (default "dev-tw-token")
  -healthsync-token string
        Healthsync bearer token (default "dev-hs-token")
  -output string
        Output file for generated callbacks (default: generated_webhooks_TIMESTAMP.json)
  -log string
        Log file for test output (default: webhook_test_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Test with default settings against a local service
  go run cmd/test-webhooks/main.go

  # Heavier run with more workers
  go run cmd/test-webhooks/main.go -events 50000 -workers 16

  # Reuse accounts linked on a previous run
  go run cmd/test-webhooks/main.go -seed=false

  # Point the seeding step at postgres
  go run cmd/test-webhooks/main.go -db-driver postgres -db-dsn "host=localhost user=vitals dbname=vitals"

Secrets must match the webhook_secrets the service was started with. The
seeding step writes straight into the configured store, so with sqlite run
it against the same database file the service opened.
`)
}
