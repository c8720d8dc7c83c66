package handlers

import (
	"pocp/middleware"
	"pocp/models"
	"pocp/services"

	"github.com/gofiber/fiber/v2"
)

type sendRequestBody struct {
	TargetWallet string `json:"target_wallet"`
}

func SetupRequestRoutes(app *fiber.App, requests *services.RequestService) {
	secured := app.Group("/events/:slug/requests", middleware.WalletContext(true))

	secured.Post("/", func(c *fiber.Ctx) error {
		var body sendRequestBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		req, err := requests.SendRequest(c.UserContext(), slugParam(c), middleware.Wallet(c), body.TargetWallet)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(req)
	})

	secured.Get("/", func(c *fiber.Ctx) error {
		res, err := requests.ListRequestsForUser(c.UserContext(), middleware.Wallet(c), slugParam(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured.Post("/:id/accept", func(c *fiber.Ctx) error {
		req, err := requests.AcceptRequest(c.UserContext(), c.Params("id"), slugParam(c), middleware.Wallet(c))
		return transitionResponse(c, req, err)
	})

	secured.Post("/:id/reject", func(c *fiber.Ctx) error {
		req, err := requests.RejectRequest(c.UserContext(), c.Params("id"), slugParam(c), middleware.Wallet(c))
		return transitionResponse(c, req, err)
	})
}

func transitionResponse(c *fiber.Ctx, req *models.Request, err error) error {
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}
