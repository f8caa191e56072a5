package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boomerdev01-max/linkaia-sub001/internal/config"
	chatws "github.com/boomerdev01-max/linkaia-sub001/internal/websocket"
	"github.com/gofiber/fiber/v2"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, &config.Config{JWTSecret: "secret"}, Dependencies{
		Hub: chatws.NewHub(nil, nil),
	})
	return app
}

func TestRegisterRoutesServesOperationalEndpoints(t *testing.T) {
	app := newTestApp()

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("app.Test %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestChatRoutesRequireBearerToken(t *testing.T) {
	app := newTestApp()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/conversations/1/messages"},
		{http.MethodPost, "/api/v1/conversations/1/messages"},
		{http.MethodPatch, "/api/v1/messages/1"},
		{http.MethodPost, "/api/v1/messages/1/reactions"},
		{http.MethodGet, "/api/v1/conversations/1/typing"},
	}
	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil))
		if err != nil {
			t.Fatalf("app.Test %s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tt.method, tt.path, resp.StatusCode)
		}
	}
}

func TestWebSocketRouteSkipsBearerGroup(t *testing.T) {
	app := newTestApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=abc", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 from the socket handshake, got %d", resp.StatusCode)
	}
}
