package dlqadmin

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequireAdminToken gates every dlqadmin route behind a static bearer
// token compared in constant time.
func RequireAdminToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "admin token not configured"})
		}
		auth := c.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}
		presented := strings.TrimPrefix(auth, prefix)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		return c.Next()
	}
}

// RegisterRoutes mounts the DLQ administration API under the given
// router group.
func RegisterRoutes(r fiber.Router, m *Manager) {
	r.Get("/messages", func(c *fiber.Ctx) error {
		f := Filter{ErrorCategory: c.Query("error_category"), MessageKind: c.Query("message_kind")}
		if limit, err := strconv.ParseInt(c.Query("limit"), 10, 64); err == nil {
			f.Limit = limit
		}
		if start := c.Query("start"); start != "" {
			if t, err := time.Parse(time.RFC3339, start); err == nil {
				f.Start = t
			}
		}
		if end := c.Query("end"); end != "" {
			if t, err := time.Parse(time.RFC3339, end); err == nil {
				f.End = t
			}
		}

		entries, err := m.List(c.Context(), f)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
	})

	r.Post("/messages/:id/reprocess", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := m.Reprocess(c.Context(), id); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"reprocessed": id})
	})

	r.Post("/reprocess", func(c *fiber.Ctx) error {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		results := m.BulkReprocess(c.Context(), body.IDs)
		return c.JSON(fiber.Map{"results": results})
	})

	r.Post("/purge", func(c *fiber.Ctx) error {
		olderThanHours := 24 * 7
		if v := c.Query("older_than_hours"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				olderThanHours = n
			}
		}
		purged, err := m.Purge(c.Context(), time.Duration(olderThanHours)*time.Hour)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"purged": purged})
	})

	r.Get("/analyze", func(c *fiber.Ctx) error {
		hoursBack := 24
		if v := c.Query("hours_back"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				hoursBack = n
			}
		}
		analysis, err := m.Analyze(c.Context(), hoursBack)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(analysis)
	})
}
