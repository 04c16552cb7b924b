package testwebhooks

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/okian/vitals/internal/domain/model"
)

// fetchServiceStats reads the /stats document.
func fetchServiceStats(ctx context.Context, config *Config) (*serviceStats, error) {
	client := newHTTPClient(config.Timeout)

	resp, err := client.Get(ctx, config.BaseURL+"/stats")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var stats serviceStats
	if err := unmarshalJSON(body, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &stats, nil
}

// verifyResults checks the stored outcome against what intake acknowledged.
func verifyResults(ctx context.Context, config *Config, baseline, final *serviceStats, stats *Stats) error {
	log.Println("🔍 Verifying results...")

	stats.ProcessedDelta = final.RawEvents[model.RawEventStatusProcessed] - baseline.RawEvents[model.RawEventStatusProcessed]
	stats.FailedDelta = final.RawEvents[model.RawEventStatusFailed] - baseline.RawEvents[model.RawEventStatusFailed]
	stats.PendingAtEnd = final.RawEvents[model.RawEventStatusPending]

	if err := verifyStoreConsistency(stats); err != nil {
		log.Printf("⚠️  Store consistency warning: %v", err)
	} else {
		log.Println("✅ Store consistency verified")
	}

	failures, err := listFailedRawEvents(ctx, config)
	if err != nil {
		log.Printf("⚠️  Failed raw event listing skipped: %v", err)
	} else {
		displayFailureBreakdown(failures, config.Verbose)
	}

	spotCheckAccounts(ctx, config)

	log.Println("✅ Result verification completed")
	return nil
}

// verifyStoreConsistency checks that every acknowledged callback settled as
// exactly one stored row. Accepted and throttled callbacks each leave a row
// behind, ignored ones are stored failed for audit, and rejected ones must
// leave no trace.
func verifyStoreConsistency(stats *Stats) error {
	if stats.PendingAtEnd > 0 {
		return fmt.Errorf("%d raw events still pending", stats.PendingAtEnd)
	}

	acknowledged := int64(stats.WebhooksAccepted + stats.WebhooksIgnored + stats.WebhooksThrottled)
	settled := stats.ProcessedDelta + stats.FailedDelta
	if settled != acknowledged {
		return fmt.Errorf("store settled %d rows but intake acknowledged %d callbacks", settled, acknowledged)
	}

	return nil
}

// listFailedRawEvents pulls recent failed raw events for display.
func listFailedRawEvents(ctx context.Context, config *Config) ([]rawEventView, error) {
	client := newHTTPClient(config.Timeout)
	listURL := fmt.Sprintf("%s/v1/rawevents?status=%s&limit=%d",
		config.BaseURL, model.RawEventStatusFailed, FailureListLimit)

	resp, err := client.Get(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var events []rawEventView
	if err := unmarshalJSON(body, &events); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return events, nil
}

// displayFailureBreakdown aggregates failed raw events by reason.
func displayFailureBreakdown(failures []rawEventView, verbose bool) {
	if len(failures) == 0 {
		log.Println("✅ No failed raw events in the store")
		return
	}

	counts := make(map[string]int)
	for _, failure := range failures {
		counts[failure.FailureReason]++
	}

	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		return counts[reasons[i]] > counts[reasons[j]]
	})

	log.Printf("⚠️  %d failed raw events by reason:", len(failures))
	for _, reason := range reasons {
		log.Printf("   %4d  %s", counts[reason], reason)
	}

	if verbose {
		displayMax := FailureDisplayMax
		if len(failures) < displayMax {
			displayMax = len(failures)
		}

		log.Printf("📋 First %d failed raw events:", displayMax)
		for i := 0; i < displayMax; i++ {
			failure := failures[i]
			log.Printf("   %s %s/%s - %s", failure.ID, failure.Provider, failure.EventType, failure.FailureReason)
		}
	}
}

// spotCheckAccounts probes the query API for the first few synthetic
// accounts. The probes are informational: a miss just means no callback of
// the matching kind landed on today's bucket for that account.
func spotCheckAccounts(ctx context.Context, config *Config) {
	checkCount := SpotCheckAccounts
	if config.NumUsers < checkCount {
		checkCount = config.NumUsers
	}
	if checkCount == 0 {
		return
	}

	log.Printf("🔎 Spot checking %d accounts...", checkCount)

	client := newHTTPClient(config.Timeout)
	today := time.Now().UTC().Format(dateLayout)

	summaries := 0
	bestMetrics := 0
	for i := 0; i < checkCount; i++ {
		userID := makeUserID(i)

		summaryURL := fmt.Sprintf("%s/v1/users/%s/summary?date=%s", config.BaseURL, userID, today)
		if statusOf(ctx, client, summaryURL) == StatusOK {
			summaries++
		}

		bestURL := fmt.Sprintf("%s/v1/users/%s/metrics/%s/best?date=%s",
			config.BaseURL, userID, model.MetricHRV, today)
		if statusOf(ctx, client, bestURL) == StatusOK {
			bestMetrics++
		}
	}

	log.Printf("✅ Spot check for %s: %d/%d accounts had a daily summary, %d/%d had a best HRV reading",
		today, summaries, checkCount, bestMetrics, checkCount)
}

// statusOf performs a GET and reports only the status code.
func statusOf(ctx context.Context, client *HTTPClient, url string) int {
	resp, err := client.Get(ctx, url)
	if err != nil {
		return 0
	}
	if _, err := readResponseBody(resp); err != nil {
		return 0
	}
	return resp.StatusCode
}
