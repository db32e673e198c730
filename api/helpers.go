// Package api exposes the allocation service over HTTP.
package api

import (
	"encoding/json"

	"github.com/adonese/allocation/stock"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

func bindJSON(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return fiber.ErrBadRequest
	}
	if err := json.Unmarshal(c.Body(), dst); err != nil {
		return err
	}
	return stock.ValidateStruct(dst)
}

func jsonResponse(c *fiber.Ctx, code int, payload interface{}) error {
	return c.Status(code).JSON(payload)
}

// validationFields flattens validator errors into a field -> reason map.
func validationFields(errs validator.ValidationErrors) map[string]any {
	fields := make(map[string]any, len(errs))
	for _, err := range errs {
		fields[err.Field()] = err.Tag()
	}
	return fields
}
