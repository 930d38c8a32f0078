package helper

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type Pagination[T any] struct {
	Page  int  `json:"page"`
	Size  int  `json:"size"`
	Total *int `json:"total"`
	Items []T  `json:"items"`
}

func GetPagination[T any](c fiber.Ctx) Pagination[T] {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}

	size, _ := strconv.Atoi(c.Query("size", "50"))
	if size < 1 {
		size = 1
	} else if size > 100 {
		size = 100
	}

	return Pagination[T]{
		Page:  page,
		Size:  size,
		Total: nil,
		Items: []T{},
	}
}

var validate = validator.New()

func ValidateInput(input interface{}) error {
	return validate.Struct(input)
}

// ParseUUIDParam reads a UUID path parameter, returning uuid.Nil when absent
// or malformed.
func ParseUUIDParam(c fiber.Ctx, name string) uuid.UUID {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// RequestActor extracts the pre-authenticated requester identity and request
// metadata. Authentication itself happens upstream; these headers are set by
// the platform's gateway.
func RequestActor(c fiber.Ctx) (uuid.UUID, bool) {
	userId, err := uuid.Parse(c.Get("X-User-Id"))
	if err != nil {
		return uuid.Nil, false
	}
	return userId, c.Get("X-Admin") == "true"
}
