package http

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, region_too_large, total_failure, not_found, ...
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
	Tiles     int    `json:"tiles,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	return writeError(c, APIError{Status: status, Code: code, Message: message})
}

func writeError(c *fiber.Ctx, e APIError) error {
	e.RequestID, _ = c.Locals("requestid").(string)
	return c.Status(e.Status).JSON(e)
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errUnavailable returns a 503 error for optional backends that are not wired.
func errUnavailable(c *fiber.Ctx, msg string) error {
	return newError(c, 503, "unavailable", msg)
}

// errFromDomain maps core errors onto API errors.
func errFromDomain(c *fiber.Ctx, err error) error {
	var tooLarge *domain.RegionTooLargeError
	switch {
	case errors.As(err, &tooLarge):
		return writeError(c, APIError{
			Status:  422,
			Code:    "region_too_large",
			Message: fmt.Sprintf("region covers %d tiles, the limit is %d; draw a smaller area", tooLarge.Tiles, tooLarge.Limit),
			Tiles:   tooLarge.Tiles,
			Limit:   tooLarge.Limit,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrTotalFailure):
		return newError(c, 502, "total_failure", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newError(c, 504, "timeout", "request timed out")
	default:
		return errInternal(c, err.Error())
	}
}
