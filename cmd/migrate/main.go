package main

import (
	"context"
	_ "embed"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"postaty/internal/pkg/logger"
)

//go:embed schema.sql
var schema string

func main() {
	_ = godotenv.Load()

	log := logger.New(logger.Config{
		Level:       "info",
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "postaty-migrate",
	})

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		log.Error("missing required environment variable", "key", "DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schema); err != nil {
		log.LogFatal("failed to apply schema", err)
	}

	log.Info("schema applied")
}

func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}
