package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openequity/sharebook/internal/api/shareholder"
	"github.com/openequity/sharebook/internal/api/trading"
	"github.com/openequity/sharebook/internal/engine"
)

func InitializeRoutes(app *fiber.App, db *pgxpool.Pool, eng *engine.Engine) {
	shareholder.InitializeRoutes(app, db)
	trading.InitializeRoutes(app, eng)
}
