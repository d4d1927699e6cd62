package handler

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/krishkalaria12/snap-edit/editor"
	"github.com/krishkalaria12/snap-edit/middleware"
	log "github.com/sirupsen/logrus"
)

const MaxPromptLength = 1000

type EditImageRequest struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
	UserID   string `json:"userId"`
	PhotoID  string `json:"photoId"`
	EditID   string `json:"editId"`
}

func validateURL(imageURL string) error {
	u, err := url.Parse(imageURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("image URL must be http or https")
	}
	if u.Host == "" {
		return errors.New("image URL has no host")
	}
	return nil
}

// EditImage is the orchestrator entry point. Its response bodies are
// {success, editedImageUrl, originalPrompt, editId} or {error[, details]}.
func (h *Handler) EditImage(c *fiber.Ctx) error {
	var req EditImageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.ImageURL != "" {
		if err := validateURL(req.ImageURL); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid image URL: " + err.Error()})
		}
	}
	if req.EditID != "" {
		if _, err := uuid.Parse(req.EditID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid editId"})
		}
	}
	if len(req.Prompt) > MaxPromptLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Prompt too long (max 1000 characters)"})
	}

	userID := req.UserID
	if sess, err := middleware.CurrentSession(c); err == nil {
		if req.UserID != "" && req.UserID != sess.UserID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "userId does not match the authenticated user"})
		}
		userID = sess.UserID
	} else if h.AuthConfigured && (req.UserID != "" || req.EditID != "") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required to save edits"})
	}

	res, err := h.Editor.Edit(c.UserContext(), editor.Request{
		ImageURL:     req.ImageURL,
		Instructions: req.Prompt,
		UserID:       userID,
		PhotoID:      req.PhotoID,
		EditID:       req.EditID,
	})
	if err != nil {
		return editError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func editError(c *fiber.Ctx, err error) error {
	var (
		verr *editor.ValidationError
		cerr *editor.ConfigurationError
		nerr *editor.NotFoundError
		perr *editor.ProcessingError
	)
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": verr.Message})
	case errors.As(err, &nerr):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": nerr.Error()})
	case errors.As(err, &cerr):
		log.WithError(cerr.Err).Error("Edit pipeline is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": cerr.Error()})
	case errors.As(err, &perr):
		body := fiber.Map{"error": perr.Message, "details": perr.Details}
		if perr.EditID != "" {
			body["editId"] = perr.EditID
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}

	log.WithError(err).Error("Error in edit-image handler")
	msg := err.Error()
	if msg == "" {
		msg = "An unknown error occurred"
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
}
