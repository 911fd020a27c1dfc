package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/makkenzo/license-issuer-api/internal/config"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"github.com/makkenzo/license-issuer-api/internal/storage/postgres"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	description := flag.String("description", "Bootstrap admin key", "Description stored with the key")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	ctx := context.Background()

	pool, err := postgres.NewPgxPool(ctx, &cfg.Database, logger)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer pool.Close()

	svc := service.NewAPIKeyService(postgres.NewAPIKeyRepository(pool, logger), logger)

	created, err := svc.CreateAPIKey(ctx, *description)
	if err != nil {
		log.Fatalf("Failed to create API key: %v", err)
	}

	fmt.Printf("Generated API Key (SAVE THIS securely!):\n%s\n\n", created.FullKey)
	fmt.Printf("Prefix: %s\n", created.Prefix)
	fmt.Printf("API Key saved to database with ID: %s\n", created.ID)
}
