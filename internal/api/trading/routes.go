package trading

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/openequity/sharebook/internal/engine"
)

func InitializeRoutes(app *fiber.App, eng *engine.Engine) {
	ctx := context.Background()
	app.Get("/v1/orders", GetOrdersHandler(ctx, eng))
	app.Post("/v1/orders", SubmitOrderHandler(ctx, eng))
	app.Get("/v1/orders/:id", GetOrderByIDHandler(ctx, eng))
	app.Post("/v1/orders/:id/cancel", CancelOrderHandler(ctx, eng))
	app.Get("/v1/order_book", GetOrderBookHandler(ctx, eng))
	app.Get("/v1/trades", GetTradesHandler(ctx, eng))
	app.Get("/v1/trades/:id", GetTradeByIDHandler(ctx, eng))
	app.Post("/v1/trades/:id/approve", ApproveTradeHandler(ctx, eng))
	app.Post("/v1/trades/:id/reject", RejectTradeHandler(ctx, eng))
}
