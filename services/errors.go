package services

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Error kinds returned by the runtime and coordinator. Handlers translate
// these to HTTP statuses in one place instead of scattering c.Status calls
// through the domain logic.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("missing user context")
	ErrForbidden       = errors.New("forbidden")

	ErrUserHasActivePlaythrough = errors.New("user already has an active playthrough")
	ErrInvalidTransition        = errors.New("invalid playthrough state transition")
	ErrConcurrencyLimitExceeded = errors.New("maximum number of active rules reached")
	ErrSessionNotActive         = errors.New("playthrough is not active")
	ErrInvalidCounterState      = errors.New("rule has no counter or is already exhausted")

	ErrCannotChallengeSelf    = errors.New("cannot challenge yourself")
	ErrChallengeAlreadyExists = errors.New("a pending challenge already exists for this user")
	ErrChallengeNotPending    = errors.New("challenge is no longer pending")

	// ErrVersionConflict marks the loser of two concurrent mutations against
	// the same playthrough. Retryable: the client should re-read and re-apply.
	ErrVersionConflict = errors.New("concurrent modification, please retry")

	ErrValidation = errors.New("validation failed")
)

// StatusCode maps an error kind to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrUserHasActivePlaythrough),
		errors.Is(err, ErrChallengeAlreadyExists),
		errors.Is(err, ErrConcurrencyLimitExceeded),
		errors.Is(err, ErrVersionConflict):
		return fiber.StatusConflict
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrInvalidCounterState),
		errors.Is(err, ErrCannotChallengeSelf),
		errors.Is(err, ErrChallengeNotPending),
		errors.Is(err, ErrValidation):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// RespondError writes the JSON error response for err. Unexpected errors are
// logged server-side and surfaced as a generic 500.
func RespondError(c *fiber.Ctx, err error) error {
	status := StatusCode(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [HTTP] internal error on %s: %v", c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
