package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/spf13/cobra"

	"github.com/kalendae/meeting-insights/internal/backend"
	"github.com/kalendae/meeting-insights/pkg/logger"
)

var verifyCmd = &cobra.Command{
	RunE:  runVerify,
	Use:   "verify",
	Short: "validate config and the bundled OpenAPI document, then check connectivity",
}

func runVerify(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, err := loadConfig(".")
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Println("config: ok")

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromFile("api/openapi.yml")
	if err != nil {
		return fmt.Errorf("openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("openapi document invalid: %w", err)
	}
	fmt.Printf("openapi: ok (%d paths)\n", doc.Paths.Len())

	logger.Init("development")
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout, logger.L())
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	fmt.Printf("backend: reachable at %s\n", cfg.Backend.BaseURL)

	return nil
}
