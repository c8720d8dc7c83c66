package handlers

import (
	"errors"

	"pocp/services"

	"github.com/gofiber/fiber/v2"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrDuplicateSlug),
		errors.Is(err, services.ErrDuplicateRequest),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrWalletTaken):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrUserNotEnrolled),
		errors.Is(err, services.ErrNotRecipient):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrSelfRequest),
		errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest
	case services.IsTransient(err):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as {"error", "code"}. Storage details stay in the logs.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		msg = "storage unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  services.ErrorCode(err),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "INVALID_INPUT",
	})
}
