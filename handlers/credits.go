package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/krishkalaria12/snap-edit/middleware"
	log "github.com/sirupsen/logrus"
)

// UseCredit spends one credit of the caller. granted is false at a zero balance.
func (h *Handler) UseCredit(c *fiber.Ctx) error {
	sess, err := middleware.CurrentSession(c)
	if err != nil {
		return unauthorized(c)
	}

	granted, err := h.Credits.UseCredit(c.UserContext(), sess.UserID)
	if err != nil {
		log.WithError(err).WithField("user_id", sess.UserID).Error("Failed to use credit")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Failed to use credit",
			"data":    nil,
		})
	}

	message := "Credit used"
	if !granted {
		message = "No credits remaining"
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": message,
		"data":    fiber.Map{"granted": granted},
	})
}

func (h *Handler) GetCredits(c *fiber.Ctx) error {
	sess, err := middleware.CurrentSession(c)
	if err != nil {
		return unauthorized(c)
	}

	n, err := h.Credits.Balance(c.UserContext(), sess.UserID)
	if err != nil {
		log.WithError(err).WithField("user_id", sess.UserID).Error("Failed to read credits")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Failed to read credits",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Credits found",
		"data":    fiber.Map{"credits": n},
	})
}
