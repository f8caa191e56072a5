package handlers

import (
	"strconv"
	"strings"

	"github.com/boomerdev01-max/linkaia-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
)

// pageQuery reads ?cursor=&limit=. A malformed limit falls back to the
// default rather than failing the request.
func pageQuery(c *fiber.Ctx) (string, int) {
	cursor := strings.TrimSpace(c.Query("cursor"))
	limit, err := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	if err != nil {
		limit = 0
	}
	return cursor, services.NormalizeLimit(limit)
}
