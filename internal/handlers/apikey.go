package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pdfapi/internal/domain"
	u "pdfapi/internal/utils"
)

const rotateTimeout = 5 * time.Second

// HandleGenerateAPIKey replaces the caller's key with a fresh UUID. The user
// is taken from the authenticated credential only, never from the request.
func (svc *PDFService) HandleGenerateAPIKey(c *fiber.Ctx) error {
	cred, ok := c.Locals(CredentialLocal).(*domain.Credential)
	if !ok || cred == nil {
		return fiber.NewError(fiber.StatusUnauthorized, domain.ErrMissingAPIKey.Error())
	}

	newKey := uuid.NewString()

	ctx, cancel := context.WithTimeout(c.UserContext(), rotateTimeout)
	defer cancel()

	if err := svc.Creds.RotateKey(ctx, *cred, newKey); err != nil {
		u.Error("API key rotation failed", "user_id", cred.ID, "error", err, "request_id", requestID(c))
		return fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
	}

	u.Info("API key rotated", "user_id", cred.ID, "request_id", requestID(c))
	return c.JSON(domain.APIKeyResponse{APIKey: newKey})
}
