package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/vitals/internal/testwebhooks"
)

// Default configuration constants.
const (
	defaultNumEvents   = 5000
	defaultNumUsers    = 100
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of callbacks to generate and submit")
		numUsers   = flag.Int("users", defaultNumUsers, "Number of distinct linked accounts")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		seed       = flag.Bool("seed", true, "Link the synthetic accounts in the store before submitting")
		dbDriver   = flag.String("db-driver", "sqlite", "Store driver for seeding: sqlite or postgres")
		dbDSN      = flag.String("db-dsn", "vitals.db", "Store DSN for seeding")
		pbSecret   = flag.String("pulseband-secret", "dev-pb-secret", "Pulseband webhook signing secret")
		somSecret  = flag.String("somnus-secret", "dev-som-secret", "Somnus webhook signing secret")
		twToken    = flag.String("trailwatch-token", "dev-tw-token", "Trailwatch shared callback token")
		hsToken    = flag.String("healthsync-token", "dev-hs-token", "Healthsync bearer token")
		outputFile = flag.String("output", "", "Output file for generated callbacks (default: generated_webhooks_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for test output (default: webhook_test_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testwebhooks.ShowHelp()
		return
	}

	// Setup logging
	if err := testwebhooks.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	// Create test configuration
	config := &testwebhooks.Config{
		BaseURL:    *baseURL,
		NumEvents:  *numEvents,
		NumUsers:   *numUsers,
		Workers:    *workers,
		Timeout:    *timeout,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
		Seed:       *seed,
		DBDriver:   *dbDriver,
		DBDSN:      *dbDSN,
		Secrets: map[string]string{
			"pulseband":  *pbSecret,
			"somnus":     *somSecret,
			"trailwatch": *twToken,
			"healthsync": *hsToken,
		},
	}

	// Run the test
	if err := testwebhooks.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		return
	}
}
