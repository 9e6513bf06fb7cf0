package cmd

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kalendae/meeting-insights/internal/backend"
	"github.com/kalendae/meeting-insights/internal/store"
	"github.com/kalendae/meeting-insights/pkg/cache"
	"github.com/kalendae/meeting-insights/pkg/logger"
)

var discoverCmd = &cobra.Command{
	RunE:  runDiscovery,
	Use:   "discover",
	Short: "probe the backend's route layout and persist what responds",
}

func runDiscovery(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	cfg, err := loadConfig(".")
	if err != nil {
		log.Fatal(err)
	}
	logger.Init("development")
	lg := logger.L()

	gormDB, sqlxDB, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer sqlxDB.Close()

	dataStore := store.New(gormDB, lg)
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout, lg)
	registry := backend.NewRegistry(client, cache.NewMemory(), dataStore, cfg.Cache.EndpointTTL, lg)

	routes, err := registry.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	ops := make([]string, 0, len(routes))
	for op := range routes {
		ops = append(ops, string(op))
	}
	sort.Strings(ops)

	fmt.Printf("discovered %d endpoints against %s:\n", len(routes), cfg.Backend.BaseURL)
	for _, op := range ops {
		fmt.Printf("  %-20s %s\n", op, routes[backend.Operation(op)])
	}
	return nil
}
