package testwebhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with a pre-built body and headers
func (c *HTTPClient) Post(ctx context.Context, url string, body []byte, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return c.client.Do(req)
}

// marshalJSON marshals a struct to JSON
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// unmarshalJSON unmarshals JSON to a struct
func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitWebhooks submits callbacks concurrently using worker pools
func submitWebhooks(ctx context.Context, config *Config, webhooks []Webhook, stats *Stats) error {
	log.Printf("📤 Submitting %d callbacks with %d workers...", len(webhooks), config.Workers)

	client := newHTTPClient(config.Timeout)

	// Counters for statistics
	var (
		submitted int64
		accepted  int64
		ignored   int64
		rejected  int64
		throttled int64
		failed    int64
	)

	// Progress reporting
	var lastReport atomic.Int64
	reportInterval := 1 * time.Second

	// Create worker pool
	webhookChan := make(chan Webhook, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for webhook := range webhookChan {
				select {
				case <-ctx.Done():
					return
				default:
					result := submitSingleWebhook(ctx, client, config, webhook)

					// Update counters
					atomic.AddInt64(&submitted, 1)
					switch result {
					case "accepted":
						atomic.AddInt64(&accepted, 1)
					case "ignored":
						atomic.AddInt64(&ignored, 1)
					case "rejected":
						atomic.AddInt64(&rejected, 1)
					case "throttled":
						atomic.AddInt64(&throttled, 1)
					case "failed":
						atomic.AddInt64(&failed, 1)
					}

					// Progress reporting
					if now := time.Now().UnixNano(); now-lastReport.Load() >= int64(reportInterval) {
						lastReport.Store(now)
						total := atomic.LoadInt64(&submitted)
						acc := atomic.LoadInt64(&accepted)
						ign := atomic.LoadInt64(&ignored)
						rej := atomic.LoadInt64(&rejected)
						thr := atomic.LoadInt64(&throttled)
						fail := atomic.LoadInt64(&failed)

						if config.Verbose {
							log.Printf("📊 Progress: %d/%d submitted (accepted: %d, ignored: %d, rejected: %d, throttled: %d, failed: %d)",
								total, len(webhooks), acc, ign, rej, thr, fail)
						} else {
							fmt.Printf("\r📤 Submitted: %d/%d (accepted: %d, ignored: %d, rejected: %d, throttled: %d, failed: %d)",
								total, len(webhooks), acc, ign, rej, thr, fail)
						}
					}
				}
			}
		}()
	}

	// Send callbacks to workers
	go func() {
		defer close(webhookChan)
		for _, webhook := range webhooks {
			select {
			case <-ctx.Done():
				return
			case webhookChan <- webhook:
			}
		}
	}()

	// Wait for all workers to complete
	wg.Wait()

	// Final progress report
	if !config.Verbose {
		fmt.Println() // New line after progress indicator
	}

	// Update stats
	stats.WebhooksSubmitted = int(atomic.LoadInt64(&submitted))
	stats.WebhooksAccepted = int(atomic.LoadInt64(&accepted))
	stats.WebhooksIgnored = int(atomic.LoadInt64(&ignored))
	stats.WebhooksRejected = int(atomic.LoadInt64(&rejected))
	stats.WebhooksThrottled = int(atomic.LoadInt64(&throttled))
	stats.WebhooksFailed = int(atomic.LoadInt64(&failed))

	log.Printf(`✅ Callback submission completed:
   Accepted: %d
   Ignored: %d
   Rejected: %d
   Throttled: %d
   Failed: %d
`, stats.WebhooksAccepted, stats.WebhooksIgnored, stats.WebhooksRejected, stats.WebhooksThrottled, stats.WebhooksFailed)

	return nil
}

// submitSingleWebhook signs and submits a single callback and returns the
// intake outcome
func submitSingleWebhook(ctx context.Context, client *HTTPClient, config *Config, webhook Webhook) string {
	header, err := signWebhook(webhook.Provider, config.Secrets, webhook.Body, time.Now())
	if err != nil {
		return "failed"
	}

	url := config.BaseURL + "/webhooks/" + webhook.Provider
	resp, err := client.Post(ctx, url, webhook.Body, header)
	if err != nil {
		return "failed"
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return "failed"
	}

	// Classify by intake status code
	switch resp.StatusCode {
	case StatusAccepted:
		var ack ackResponse
		if err := unmarshalJSON(body, &ack); err == nil && ack.Status == "ignored" {
			return "ignored"
		}
		return "accepted" // Assume accepted for 202 even if parsing fails
	case StatusUnauthorized:
		return "rejected"
	case StatusTooManyRequests:
		return "throttled"
	default:
		return "failed"
	}
}
