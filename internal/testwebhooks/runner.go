package testwebhooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run executes the complete webhook load test.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting vitals webhook test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("events", config.NumEvents),
		logger.Int("users", config.NumUsers),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.Any("seed", config.Seed),
		logger.String("logFile", config.LogFile),
		logger.Any("verbose", config.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Snapshot store counters before submitting anything
	baseline, err := fetchServiceStats(ctx, config)
	if err != nil {
		return fmt.Errorf("baseline stats retrieval failed: %w", err)
	}

	// Step 3: Link the synthetic accounts
	if config.Seed {
		if err := seedConnections(ctx, config, stats); err != nil {
			return fmt.Errorf("connection seeding failed: %w", err)
		}
	}

	// Step 4: Generate provider callbacks
	webhooks, err := generateWebhooks(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("callback generation failed: %w", err)
	}

	// Step 5: Submit callbacks concurrently
	if err := submitWebhooks(ctx, config, webhooks, stats); err != nil {
		return fmt.Errorf("callback submission failed: %w", err)
	}

	// Step 6: Wait for the pipeline to drain
	final, err := waitForDrain(ctx, config)
	if err != nil {
		return fmt.Errorf("drain wait failed: %w", err)
	}

	// Step 7: Verify stored results
	if err := verifyResults(ctx, config, baseline, final, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	// Step 8: Save callbacks to file
	if err := saveWebhooksToFile(ctx, config, webhooks); err != nil {
		logger.Get().Warn(ctx, "failed to save callbacks to file", logger.Error(err))
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/healthz"

	resp, err := client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// waitForDrain polls the stats endpoint until the queue is empty and no raw
// events remain pending. A timeout is reported, not fatal: verification
// still runs against whatever has settled.
func waitForDrain(ctx context.Context, config *Config) (*serviceStats, error) {
	logger.Get().Info(ctx, "waiting for the pipeline to drain")

	deadline := time.Now().Add(DrainWaitTimeout)
	for {
		stats, err := fetchServiceStats(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("drain poll failed: %w", err)
		}

		pending := stats.RawEvents[model.RawEventStatusPending]
		if stats.Queue.Depth == 0 && pending == 0 {
			logger.Get().Info(ctx, "pipeline drained",
				logger.Int("processed", int(stats.RawEvents[model.RawEventStatusProcessed])),
				logger.Int("failed", int(stats.RawEvents[model.RawEventStatusFailed])))
			return stats, nil
		}

		if time.Now().After(deadline) {
			logger.Get().Warn(ctx, "pipeline still busy after drain timeout",
				logger.Int("queueDepth", stats.Queue.Depth),
				logger.Int("pending", int(pending)))
			return stats, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while draining: %w", ctx.Err())
		case <-time.After(DrainPollInterval):
		}
	}
}

// saveWebhooksToFile saves the generated callbacks to a JSON file.
func saveWebhooksToFile(ctx context.Context, config *Config, webhooks []Webhook) error {
	if len(webhooks) == 0 {
		return fmt.Errorf("no callbacks to save")
	}

	// Determine output filename
	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "generated_webhooks_" + timestamp + ".json"
	}

	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write callbacks to file
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	// Write JSON array
	if _, err := file.WriteString("[\n"); err != nil {
		return fmt.Errorf("failed to write opening bracket: %w", err)
	}

	for i, webhook := range webhooks {
		jsonData, err := marshalJSON(webhook)
		if err != nil {
			return fmt.Errorf("failed to marshal callback %d: %w", i, err)
		}

		if _, err := file.Write(jsonData); err != nil {
			return fmt.Errorf("failed to write callback %d: %w", i, err)
		}

		// Add comma except for last callback
		if i < len(webhooks)-1 {
			if _, err := file.WriteString(","); err != nil {
				return fmt.Errorf("failed to write comma: %w", err)
			}
		}
		_, _ = file.WriteString("\n")
	}

	if _, err := file.WriteString("]\n"); err != nil {
		return fmt.Errorf("failed to write closing bracket: %w", err)
	}

	logger.Get().Info(ctx, "callbacks saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats prints the final test statistics.
func displayFinalStats(stats *Stats) {
	var acceptRate, callbacksPerSecond float64

	if stats.WebhooksSubmitted > 0 {
		acceptRate = float64(stats.WebhooksAccepted) / float64(stats.WebhooksSubmitted) * PercentageMultiplier
	}

	if stats.Duration > 0 {
		callbacksPerSecond = float64(stats.WebhooksSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("connectionsSeeded", stats.ConnectionsSeeded),
		logger.Int("webhooksGenerated", stats.WebhooksGenerated),
		logger.Int("webhooksSubmitted", stats.WebhooksSubmitted),
		logger.Int("webhooksAccepted", stats.WebhooksAccepted),
		logger.Int("webhooksIgnored", stats.WebhooksIgnored),
		logger.Int("webhooksRejected", stats.WebhooksRejected),
		logger.Int("webhooksThrottled", stats.WebhooksThrottled),
		logger.Int("webhooksFailed", stats.WebhooksFailed),
		logger.Int("processedDelta", int(stats.ProcessedDelta)),
		logger.Int("failedDelta", int(stats.FailedDelta)),
		logger.Int("pendingAtEnd", int(stats.PendingAtEnd)),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("callbacksPerSecond", callbacksPerSecond))
}
