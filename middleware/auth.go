package middleware

import (
	"pocp/services"

	"github.com/gofiber/fiber/v2"
)

const (
	WalletHeader = "X-Wallet-Address"
	walletKey    = "wallet"
)

// WalletContext attaches the caller's canonical wallet address to the request.
// When required is true, requests without one are rejected.
func WalletContext(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := services.CanonicalWallet(c.Get(WalletHeader))
		if required && wallet == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing " + WalletHeader + " header",
				"code":  "UNAUTHORIZED",
			})
		}
		c.Locals(walletKey, wallet)
		return c.Next()
	}
}

// Wallet returns the caller wallet set by WalletContext, or "".
func Wallet(c *fiber.Ctx) string {
	w, _ := c.Locals(walletKey).(string)
	return w
}
