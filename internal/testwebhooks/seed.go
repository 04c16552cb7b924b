package testwebhooks

import (
	"context"
	"fmt"
	"log"

	"github.com/okian/vitals/internal/adapters/repository"
)

// seedConnections writes provider account links straight into the store so
// generated callbacks resolve to known accounts. The resolver never caches
// misses, so rows written here are picked up without a service restart.
func seedConnections(ctx context.Context, config *Config, stats *Stats) error {
	log.Printf("🔗 Linking %d accounts across %d providers...", config.NumUsers, len(providerDevicePrefix))

	store, err := repository.Open(config.DBDriver, config.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}()

	seeded := 0
	for i := 0; i < config.NumUsers; i++ {
		userID := makeUserID(i)
		for provider := range providerDevicePrefix {
			if err := store.UpsertConnection(ctx, provider, makeDeviceID(provider, i), userID); err != nil {
				return fmt.Errorf("failed to link %s for %s: %w", provider, userID, err)
			}
			seeded++
		}
	}

	stats.ConnectionsSeeded = seeded
	log.Printf("✅ Linked %d provider connections", seeded)
	return nil
}
