package routes

import (
	"github.com/boomerdev01-max/linkaia-sub001/internal/config"
	"github.com/boomerdev01-max/linkaia-sub001/internal/handlers"
	"github.com/boomerdev01-max/linkaia-sub001/internal/middleware"
	"github.com/boomerdev01-max/linkaia-sub001/internal/ratelimit"
	"github.com/boomerdev01-max/linkaia-sub001/internal/services"
	chatws "github.com/boomerdev01-max/linkaia-sub001/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Dependencies struct {
	Chat        *services.ChatService
	Attachments *services.AttachmentService
	Hub         *chatws.Hub
	// SendLimiter is optional; sends are unlimited without it.
	SendLimiter ratelimit.Limiter
	Log         *zap.Logger
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	chatHandler := newChatHandler(cfg, deps)

	api := app.Group("/api")

	// the socket authenticates by query token, so it is routed ahead of the
	// bearer-header group
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	limited := func(handler fiber.Handler) []fiber.Handler {
		if deps.SendLimiter == nil {
			return []fiber.Handler{handler}
		}
		return []fiber.Handler{ratelimit.Middleware(deps.SendLimiter, "send", deps.Log), handler}
	}

	conversations := authProtected.Group("/conversations")
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", limited(chatHandler.SendMessage)...)
	conversations.Get("/:id/pinned", chatHandler.ListPinned)
	conversations.Post("/:id/read", chatHandler.MarkRead)
	conversations.Post("/:id/typing", chatHandler.SetTyping)
	conversations.Get("/:id/typing", chatHandler.ListTyping)
	conversations.Post("/:id/attachments", limited(chatHandler.UploadAttachment)...)

	messages := authProtected.Group("/messages")
	messages.Patch("/:id", chatHandler.EditMessage)
	messages.Delete("/:id", chatHandler.DeleteMessage)
	messages.Put("/:id/pin", chatHandler.SetPinned)
	messages.Post("/:id/reactions", chatHandler.ToggleReaction)
	messages.Get("/:id/receipts", chatHandler.ReadReceipts)
}

func newChatHandler(cfg *config.Config, deps Dependencies) *handlers.ChatHandler {
	// a nil *AttachmentService must reach the handler as a nil interface
	if deps.Attachments == nil {
		return handlers.NewChatHandler(deps.Chat, nil, deps.Hub, cfg.JWTSecret, deps.Log)
	}
	return handlers.NewChatHandler(deps.Chat, deps.Attachments, deps.Hub, cfg.JWTSecret, deps.Log)
}
