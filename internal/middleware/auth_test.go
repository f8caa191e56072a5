package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boomerdev01-max/linkaia-sub001/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

func newAuthApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthRequired("secret"), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":    c.Locals("user_id"),
			"session_id": c.Locals("session_id"),
		})
	})
	return app
}

func TestAuthRequiredSetsCaller(t *testing.T) {
	token, err := utils.GenerateToken(42, "user", "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var gotUser int64
	var gotSession string
	app := fiber.New()
	app.Get("/me", AuthRequired("secret"), func(c *fiber.Ctx) error {
		gotUser, _ = c.Locals("user_id").(int64)
		gotSession, _ = c.Locals("session_id").(string)
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(SessionHeader, "tab-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if gotUser != 42 || gotSession != "tab-1" {
		t.Fatalf("unexpected caller %d %q", gotUser, gotSession)
	}
}

func TestAuthRequiredRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "bad token", header: "Bearer not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := newAuthApp().Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}
