package shareholder

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openequity/sharebook/internal/helper"
)

func CreateShareholderHandler(ctx context.Context, db *pgxpool.Pool) fiber.Handler {
	return func(c fiber.Ctx) error {
		// Parse create shareholder schema
		var input = CreateShareholderSchema{}
		if err := c.Bind().Body(&input); err != nil {
			return fiber.ErrBadRequest
		}
		if err := helper.ValidateInput(&input); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// Shareholder row and the zeroed position go in together
		tx, err := db.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var shareholderId uuid.UUID
		err = tx.QueryRow(ctx, "INSERT INTO shareholders (name) VALUES ($1) RETURNING id", input.Name).Scan(&shareholderId)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, "INSERT INTO positions (shareholder_id, total_shares, locked_shares) VALUES ($1, 0, 0)", shareholderId)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		return c.JSON(CreateShareholderResponseSchema{
			Id:   shareholderId.String(),
			Name: input.Name,
		})
	}
}

func GetShareholdersHandler(db *pgxpool.Pool) fiber.Handler {
	return func(c fiber.Ctx) error {
		// Get pagination
		pagination := helper.GetPagination[ShareholderShowSchema](c)

		var total int
		if err := db.QueryRow(context.Background(), "SELECT COUNT(*) FROM shareholders").Scan(&total); err != nil {
			return err
		}
		pagination.Total = &total

		query := `
			SELECT sh.id, sh.name, pos.total_shares, pos.locked_shares
			FROM shareholders sh
			INNER JOIN positions pos ON pos.shareholder_id = sh.id
			ORDER BY sh.name
			LIMIT $1 OFFSET $2
		`
		rows, err := db.Query(context.Background(), query, pagination.Size, (pagination.Page-1)*pagination.Size)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var item ShareholderShowSchema
			if err := rows.Scan(&item.Id, &item.Name, &item.Total, &item.Locked); err != nil {
				return err
			}
			item.Available = item.Total - item.Locked
			pagination.Items = append(pagination.Items, item)
		}

		return c.JSON(pagination)
	}
}

func GetShareholderByIDHandler(db *pgxpool.Pool) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := helper.ParseUUIDParam(c, "id")
		if id == uuid.Nil {
			return fiber.ErrBadRequest
		}

		var item ShareholderShowSchema
		query := `
			SELECT sh.id, sh.name, pos.total_shares, pos.locked_shares
			FROM shareholders sh
			INNER JOIN positions pos ON pos.shareholder_id = sh.id
			WHERE sh.id = $1
		`
		err := db.QueryRow(context.Background(), query, id).Scan(&item.Id, &item.Name, &item.Total, &item.Locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "Shareholder not found",
				})
			}
			return err
		}
		item.Available = item.Total - item.Locked

		return c.JSON(item)
	}
}

// CreditSharesHandler grants newly emitted shares to a shareholder. Admin
// only: regular users never mutate totals directly.
func CreditSharesHandler(ctx context.Context, db *pgxpool.Pool) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := helper.ParseUUIDParam(c, "id")
		if id == uuid.Nil {
			return fiber.ErrBadRequest
		}
		_, admin := helper.RequestActor(c)
		if !admin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin capability required",
			})
		}

		var input CreditSharesSchema
		if err := c.Bind().Body(&input); err != nil {
			return fiber.ErrBadRequest
		}
		if err := helper.ValidateInput(&input); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// Transaction to ensure correct update on race conditions
		tx, err := db.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var total, locked int64
		query := `
			UPDATE positions SET total_shares = total_shares + $1
			WHERE shareholder_id = $2
			RETURNING total_shares, locked_shares
		`
		if err := tx.QueryRow(ctx, query, *input.Amount, id).Scan(&total, &locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "Shareholder not found",
				})
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"total_shares":     total,
			"available_shares": total - locked,
			"locked_shares":    locked,
		})
	}
}
