package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/multisig-custody/backend/internal/http/dto"
	"github.com/multisig-custody/backend/internal/middleware"
	"github.com/multisig-custody/backend/internal/services"
	"go.uber.org/zap"
)

var kindStatus = map[services.Kind]int{
	services.KindConfiguration:   fiber.StatusBadRequest,
	services.KindAuthorization:   fiber.StatusForbidden,
	services.KindStateConflict:   fiber.StatusConflict,
	services.KindTemporal:        fiber.StatusGone,
	services.KindInputValidation: fiber.StatusUnprocessableEntity,
	services.KindExternal:        fiber.StatusBadGateway,
	services.KindNotFound:        fiber.StatusNotFound,
}

// respondError writes a domain error with its code and details. Anything
// else is logged and reported as an opaque 500.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	reqID := middleware.GetRequestID(c)
	if de, ok := services.AsError(err); ok {
		status, found := kindStatus[de.Kind]
		if !found {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(dto.ErrorResponse{
			Error:     de.Message,
			Code:      de.Code,
			Details:   de.Details,
			RequestID: reqID,
		})
	}

	log.Error("unhandled error",
		zap.String("request_id", reqID),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}
