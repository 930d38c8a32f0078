package main

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openequity/sharebook/internal/api"
	"github.com/openequity/sharebook/internal/db"
	"github.com/openequity/sharebook/internal/engine"
	"github.com/openequity/sharebook/internal/logging"
	"github.com/openequity/sharebook/internal/notify"
	"github.com/openequity/sharebook/internal/storage/postgres"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// DB connection
	pool := db.NewConnection()
	defer pool.Close()

	store := postgres.NewStore(pool)
	notifier := notify.NewLogNotifier(logger, approverIds(logger))

	// Matching engine with its single intake worker
	eng := engine.New(store, notifier, logger)
	defer eng.Close()

	// Background expiry sweep
	sweeper := engine.NewSweeper(eng, sweepInterval(), logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize a new Fiber app and the API routes
	app := fiber.New()
	api.InitializeRoutes(app, pool, eng)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8000"
	}
	logger.Info("listening", zap.String("addr", addr))
	log.Fatal(app.Listen(addr))
}

func sweepInterval() time.Duration {
	interval, err := time.ParseDuration(os.Getenv("EXPIRY_SWEEP_INTERVAL"))
	if err != nil {
		return time.Minute
	}
	return interval
}

// approverIds reads the comma-separated APPROVER_IDS list used to fan out
// pending-approval notifications.
func approverIds(logger *zap.Logger) []uuid.UUID {
	var ids []uuid.UUID
	raw := os.Getenv("APPROVER_IDS")
	if raw == "" {
		return ids
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			logger.Warn("ignoring malformed approver id", zap.String("value", part))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
