package admission

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

func timeoutContext(c *fiber.Ctx, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), d)
}
