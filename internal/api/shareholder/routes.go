package shareholder

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
)

func InitializeRoutes(app *fiber.App, db *pgxpool.Pool) {
	app.Get("/v1/shareholders", GetShareholdersHandler(db))
	app.Post("/v1/shareholders", CreateShareholderHandler(context.Background(), db))
	app.Get("/v1/shareholders/:id", GetShareholderByIDHandler(db))
	app.Post("/v1/shareholders/:id/credit", CreditSharesHandler(context.Background(), db))
}
