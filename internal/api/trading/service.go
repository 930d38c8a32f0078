package trading

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/openequity/sharebook/internal/engine"
	"github.com/openequity/sharebook/internal/helper"
)

func SubmitOrderHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		// Parse submit order schema
		var input = SubmitOrderSchema{}
		if err := c.Bind().Body(&input); err != nil {
			return fiber.ErrBadRequest
		}
		if err := helper.ValidateInput(&input); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// The order is created OPEN and returned right away; matching runs
		// asynchronously on the intake queue.
		order, err := eng.SubmitOrder(ctx, engine.SubmitRequest{
			ShareholderId: input.ShareholderId,
			Side:          engine.Side(input.Side),
			Quantity:      input.Quantity,
			Price:         input.Price,
			ExpiresAt:     input.ExpiresAt,
		}, requestActor(c))
		if err != nil {
			return engineError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(order)
	}
}

func CancelOrderHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := helper.ParseUUIDParam(c, "id")
		if id == uuid.Nil {
			return fiber.ErrBadRequest
		}

		order, err := eng.CancelOrder(ctx, id, requestActor(c))
		if err != nil {
			return engineError(c, err)
		}
		return c.JSON(order)
	}
}

func GetOrdersHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		pagination := helper.GetPagination[*engine.Order](c)

		orders, total, err := eng.ListOrders(ctx, pagination.Page, pagination.Size)
		if err != nil {
			return err
		}
		pagination.Total = &total
		pagination.Items = orders
		return c.JSON(pagination)
	}
}

func GetOrderByIDHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := helper.ParseUUIDParam(c, "id")
		if id == uuid.Nil {
			return fiber.ErrBadRequest
		}
		order, err := eng.GetOrder(ctx, id)
		if err != nil {
			return engineError(c, err)
		}
		return c.JSON(order)
	}
}

func GetOrderBookHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		depth, _ := strconv.Atoi(c.Query("depth", "10"))
		book, err := eng.OrderBook(ctx, depth)
		if err != nil {
			return err
		}
		return c.JSON(book)
	}
}

func GetTradesHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		pagination := helper.GetPagination[*engine.Trade](c)

		trades, total, err := eng.ListTrades(ctx, pagination.Page, pagination.Size)
		if err != nil {
			return err
		}
		pagination.Total = &total
		pagination.Items = trades
		return c.JSON(pagination)
	}
}

func GetTradeByIDHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := helper.ParseUUIDParam(c, "id")
		if id == uuid.Nil {
			return fiber.ErrBadRequest
		}
		trade, err := eng.GetTrade(ctx, id)
		if err != nil {
			return engineError(c, err)
		}
		return c.JSON(trade)
	}
}

func ApproveTradeHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := helper.ParseUUIDParam(c, "id")
		if id == uuid.Nil {
			return fiber.ErrBadRequest
		}
		actor := requestActor(c)
		if !actor.Admin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "approver capability required",
			})
		}

		var input ApproveTradeSchema
		if err := c.Bind().Body(&input); err != nil {
			return fiber.ErrBadRequest
		}

		trade, err := eng.ApproveTrade(ctx, id, actor, input.Notes)
		if err != nil {
			return engineError(c, err)
		}
		return c.JSON(trade)
	}
}

func RejectTradeHandler(ctx context.Context, eng *engine.Engine) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := helper.ParseUUIDParam(c, "id")
		if id == uuid.Nil {
			return fiber.ErrBadRequest
		}
		actor := requestActor(c)
		if !actor.Admin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "approver capability required",
			})
		}

		var input RejectTradeSchema
		if err := c.Bind().Body(&input); err != nil {
			return fiber.ErrBadRequest
		}
		if err := helper.ValidateInput(&input); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		trade, err := eng.RejectTrade(ctx, id, actor, input.Reason)
		if err != nil {
			return engineError(c, err)
		}
		return c.JSON(trade)
	}
}

func requestActor(c fiber.Ctx) engine.Actor {
	userId, admin := helper.RequestActor(c)
	return engine.Actor{
		UserId:    userId,
		Admin:     admin,
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
}

// engineError maps the engine's sentinel errors onto HTTP statuses.
func engineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrInsufficientShares):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrUnauthorized):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrNotCancellable), errors.Is(err, engine.ErrTradeNotPending):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, engine.ErrTradeNotFound),
		errors.Is(err, engine.ErrShareholderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	default:
		return err
	}
}
