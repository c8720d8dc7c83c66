package handlers

import (
	"net/url"
	"strconv"

	"pocp/middleware"
	"pocp/services"

	"github.com/gofiber/fiber/v2"
)

type enrollBody struct {
	EventName string              `json:"event_name"`
	Attendees []services.Attendee `json:"attendees"`
}

// slugParam returns the decoded :slug; slugs keep the event name's
// characters, so clients send them percent-encoded.
func slugParam(c *fiber.Ctx) string {
	raw := c.Params("slug")
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func SetupEventRoutes(app *fiber.App, enrollment *services.EnrollmentService, users *services.UserService) {
	// Ingest a roster: the caller becomes the event creator.
	app.Post("/events", middleware.WalletContext(true), func(c *fiber.Ctx) error {
		var body enrollBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		slug := services.EventSlug(body.EventName)
		if slug == "" {
			return badRequest(c, "event_name is required")
		}

		res, err := enrollment.EnrollUsers(c.UserContext(), services.EnrollInput{
			EventName: body.EventName,
			Slug:      slug,
			Creator:   middleware.Wallet(c),
			Attendees: body.Attendees,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	app.Get("/events/:slug", func(c *fiber.Ctx) error {
		event, err := enrollment.GetEvent(c.UserContext(), slugParam(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(event)
	})

	app.Get("/events/:slug/members/:wallet", func(c *fiber.Ctx) error {
		m, err := enrollment.IsUserInEvent(c.UserContext(), slugParam(c), c.Params("wallet"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(m)
	})

	app.Get("/events/:slug/users", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		res, err := users.SearchEventUsers(c.UserContext(), slugParam(c), c.Query("q"), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured := app.Group("/users", middleware.WalletContext(true))

	secured.Post("/connect", func(c *fiber.Ctx) error {
		user, created, err := users.ConnectWallet(c.UserContext(), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(user)
	})

	secured.Get("/me", func(c *fiber.Ctx) error {
		user, err := users.GetUserByWallet(c.UserContext(), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(user)
	})
}
