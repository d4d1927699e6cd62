package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/krishkalaria12/snap-edit/auth"
	handler "github.com/krishkalaria12/snap-edit/handlers"
	"github.com/krishkalaria12/snap-edit/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const allowHeaders = "authorization, x-client-info, apikey, content-type"

// SetupRoutes mounts the API on app. v may be nil when no JWT secret is configured;
// authenticated routes then always answer 401.
func SetupRoutes(app *fiber.App, h *handler.Handler, v *auth.Verifier, allowOrigins string) {
	app.Use(recover.New())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api", logger.New(), cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: allowHeaders,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
	}))
	api.Get("/hello", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "success", "message": "Hello i'm ok!", "data": nil})
	})

	api.Post("/edit-image", middleware.OptionalAuth(v), h.EditImage)

	requireAuth := middleware.AuthMiddleware(v)
	api.Get("/photos/:photoId/edits", requireAuth, h.ListEdits)
	api.Delete("/edits/:id", requireAuth, h.DeleteEdit)
	api.Get("/credits", requireAuth, h.GetCredits)
	api.Post("/credits/use", requireAuth, h.UseCredit)
}
