package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/krishkalaria12/snap-edit/middleware"
	log "github.com/sirupsen/logrus"
)

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"status":  "error",
		"message": "Authentication required",
		"data":    nil,
	})
}

// ListEdits returns the caller's edits of one photo, newest first.
func (h *Handler) ListEdits(c *fiber.Ctx) error {
	sess, err := middleware.CurrentSession(c)
	if err != nil {
		return unauthorized(c)
	}

	photoID := c.Params("photoId")
	if photoID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Photo ID is required",
			"data":    nil,
		})
	}

	rows, err := h.Records.List(c.UserContext(), sess.UserID, photoID)
	if err != nil {
		log.WithError(err).WithField("photo_id", photoID).Error("Failed to list edits")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Failed to load edits",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Edits found",
		"data":    rows,
	})
}

// DeleteEdit removes one of the caller's edits. Deleting an edit that does
// not exist succeeds.
func (h *Handler) DeleteEdit(c *fiber.Ctx) error {
	sess, err := middleware.CurrentSession(c)
	if err != nil {
		return unauthorized(c)
	}

	id := c.Params("id")
	if err := h.Records.Delete(c.UserContext(), id, sess.UserID); err != nil {
		log.WithError(err).WithField("edit_id", id).Error("Failed to delete edit")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Failed to delete edit",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Edit deleted",
		"data":    nil,
	})
}
