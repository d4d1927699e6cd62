package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/krishkalaria12/snap-edit/auth"
	log "github.com/sirupsen/logrus"
)

const sessionKey = "session"

var ErrNoSession = errors.New("no authenticated session")

func tokenFrom(c *fiber.Ctx) string {
	if tokenStr := auth.BearerToken(c.Get(fiber.HeaderAuthorization)); tokenStr != "" {
		return tokenStr
	}
	return c.Cookies("JWT")
}

// AuthMiddleware rejects requests without a valid token and stores the
// caller's auth.Session in Locals.
func AuthMiddleware(v *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := tokenFrom(c)
		if tokenStr == "" || v == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status":  "error",
				"message": "You are not authorized!",
				"data":    nil,
			})
		}

		sess, err := v.Verify(tokenStr)
		if err != nil {
			log.WithError(err).Debug("Rejected token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status":  "error",
				"message": "Invalid token",
				"data":    nil,
			})
		}

		c.Locals(sessionKey, sess)
		return c.Next()
	}
}

// OptionalAuth stores a session when a token is present. A token that is
// present but invalid is still rejected.
func OptionalAuth(v *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := tokenFrom(c)
		if tokenStr == "" || v == nil {
			return c.Next()
		}

		sess, err := v.Verify(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}
		c.Locals(sessionKey, sess)
		return c.Next()
	}
}

// CurrentSession returns the session stored by AuthMiddleware or OptionalAuth.
func CurrentSession(c *fiber.Ctx) (auth.Session, error) {
	sess, ok := c.Locals(sessionKey).(auth.Session)
	if !ok {
		return auth.Session{}, ErrNoSession
	}
	return sess, nil
}
