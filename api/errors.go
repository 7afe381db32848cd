package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/pool"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`

	// Kind names the validation failure for 400 responses.
	Kind string `json:"kind,omitempty"`
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}

// writeError maps a store error onto a status code.
func (s *Server) writeError(c *fiber.Ctx, op string, err error) error {
	var ve *memory.ValidationError

	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: err.Error(),
			Kind:  ve.Kind.String(),
		})

	case memory.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})

	case errors.Is(err, pool.ErrPoolTimeout), errors.Is(err, memory.ErrNotConfigured):
		s.logger.Warn("memory store unavailable", "op", op, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: err.Error()})
	}

	s.logger.Error("memory operation failed", "op", op, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to " + op + " memory"})
}
