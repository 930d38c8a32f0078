package db

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func NewConnection() *pgxpool.Pool {
	// Load environment variables from .env file
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Could not load .env file, using system environment variables")
	}

	// Create a new database connection pool
	config, err := pgxpool.ParseConfig(os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to parse db config: %v", err)
	}
	if maxConns, err := strconv.Atoi(os.Getenv("DATABASE_MAX_CONNS")); err == nil && maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		log.Fatalf("Failed to create db pool: %v", err)
	}

	return pool
}
