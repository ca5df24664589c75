package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pslib/urlshortener/internal/app/service"
	httpUtil "github.com/pslib/urlshortener/internal/http/util"
	"go.uber.org/zap"
)

const (
	actorLocalKey     = "actor"
	DisplayNameHeader = "X-Auth-Name"
	EmailHeader       = "X-Auth-Email"
)

// Authenticate verifies the bearer identity token minted for the upstream
// auth proxy and stores the resulting service.Actor on the context.
func Authenticate(signer *httpUtil.TokenSigner, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}

		identity, err := signer.Parse(strings.TrimSpace(token))
		if err != nil {
			logger.Debug("rejected identity token", zap.Error(err), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		c.Locals(actorLocalKey, service.Actor{
			Subject:     identity.Subject,
			IsAdmin:     identity.Admin,
			DisplayName: c.Get(DisplayNameHeader),
			Email:       c.Get(EmailHeader),
		})
		return c.Next()
	}
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(c *fiber.Ctx) (service.Actor, bool) {
	actor, ok := c.Locals(actorLocalKey).(service.Actor)
	return actor, ok
}
