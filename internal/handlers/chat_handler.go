package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/boomerdev01-max/linkaia-sub001/internal/services"
	chatws "github.com/boomerdev01-max/linkaia-sub001/internal/websocket"
	"github.com/boomerdev01-max/linkaia-sub001/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxSessionIDLength = 64

type chatApplicationService interface {
	ListMessages(ctx context.Context, callerID int64, conversationID int64, cursor string, limit int) (*models.MessagePage, error)
	SendMessage(ctx context.Context, input services.SendMessageInput) (*models.Message, error)
	EditMessage(ctx context.Context, messageID int64, callerID int64, content string, originSession string) (*models.MessageUpdate, error)
	DeleteMessage(ctx context.Context, messageID int64, callerID int64, originSession string) (*models.MessageUpdate, error)
	SetPinned(ctx context.Context, messageID int64, callerID int64, pinned bool, originSession string) (*models.MessageUpdate, error)
	ToggleReaction(ctx context.Context, messageID int64, userID int64, emoji string, originSession string) (*services.ReactionResult, error)
	MarkRead(ctx context.Context, conversationID int64, callerID int64) error
	ReadReceipts(ctx context.Context, messageID int64, callerID int64) ([]models.ReadReceipt, error)
	ListPinned(ctx context.Context, conversationID int64, callerID int64) ([]models.Message, error)
	SetTyping(ctx context.Context, conversationID int64, callerID int64, active bool, originSession string) error
	ListTyping(ctx context.Context, conversationID int64, callerID int64) ([]models.TypingUser, error)
	CanSubscribe(ctx context.Context, conversationID int64, userID int64) error
}

type attachmentUploader interface {
	Upload(ctx context.Context, input services.AttachmentInput) (*models.MessageMedia, error)
}

type ChatHandler struct {
	service     chatApplicationService
	attachments attachmentUploader
	hub         *chatws.Hub
	jwtSecret   string
	log         *zap.Logger
}

type sendMessageRequest struct {
	Content   *string               `json:"content"`
	Kind      models.MessageKind    `json:"kind"`
	ReplyToID *int64                `json:"reply_to_id"`
	Media     []models.MessageMedia `json:"media"`
	ClientID  *string               `json:"client_id"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type typingRequest struct {
	Active bool `json:"active"`
}

func NewChatHandler(
	service chatApplicationService,
	attachments attachmentUploader,
	hub *chatws.Hub,
	jwtSecret string,
	log *zap.Logger,
) *ChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatHandler{
		service:     service,
		attachments: attachments,
		hub:         hub,
		jwtSecret:   jwtSecret,
		log:         log,
	}
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, conversationID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	cursor, limit := pageQuery(c)
	page, err := h.service.ListMessages(c.UserContext(), userID, conversationID, cursor, limit)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(models.MessagePage{
		Messages:   services.Chronological(page.Messages),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, conversationID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return h.mapChatError(c, services.ErrValidation.With("invalid request body"))
	}

	message, err := h.service.SendMessage(c.UserContext(), services.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		Kind:           req.Kind,
		ReplyToID:      req.ReplyToID,
		Media:          req.Media,
		ClientID:       req.ClientID,
		OriginSession:  originKey(c, userID),
	})
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(message)
}

func (h *ChatHandler) EditMessage(c *fiber.Ctx) error {
	userID, messageID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	var req editMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return h.mapChatError(c, services.ErrValidation.With("invalid request body"))
	}

	if _, err := h.service.EditMessage(c.UserContext(), messageID, userID, req.Content, originKey(c, userID)); err != nil {
		return h.mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	userID, messageID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	if _, err := h.service.DeleteMessage(c.UserContext(), messageID, userID, originKey(c, userID)); err != nil {
		return h.mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) SetPinned(c *fiber.Ctx) error {
	userID, messageID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return h.mapChatError(c, services.ErrValidation.With("invalid request body"))
	}

	if _, err := h.service.SetPinned(c.UserContext(), messageID, userID, req.Pinned, originKey(c, userID)); err != nil {
		return h.mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) ToggleReaction(c *fiber.Ctx) error {
	userID, messageID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	var req reactionRequest
	if err := c.BodyParser(&req); err != nil {
		return h.mapChatError(c, services.ErrValidation.With("invalid request body"))
	}

	result, err := h.service.ToggleReaction(c.UserContext(), messageID, userID, req.Emoji, originKey(c, userID))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(result)
}

func (h *ChatHandler) ReadReceipts(c *fiber.Ctx) error {
	userID, messageID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	receipts, err := h.service.ReadReceipts(c.UserContext(), messageID, userID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"read_by": receipts})
}

func (h *ChatHandler) ListPinned(c *fiber.Ctx) error {
	userID, conversationID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	messages, err := h.service.ListPinned(c.UserContext(), conversationID, userID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	userID, conversationID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	if err := h.service.MarkRead(c.UserContext(), conversationID, userID); err != nil {
		return h.mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) SetTyping(c *fiber.Ctx) error {
	userID, conversationID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	var req typingRequest
	if err := c.BodyParser(&req); err != nil {
		return h.mapChatError(c, services.ErrValidation.With("invalid request body"))
	}

	if err := h.service.SetTyping(c.UserContext(), conversationID, userID, req.Active, originKey(c, userID)); err != nil {
		return h.mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) ListTyping(c *fiber.Ctx) error {
	userID, conversationID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}

	typing, err := h.service.ListTyping(c.UserContext(), conversationID, userID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"typing": typing})
}

func (h *ChatHandler) UploadAttachment(c *fiber.Ctx) error {
	userID, conversationID, err := callerAndID(c)
	if err != nil {
		return h.mapChatError(c, err)
	}
	if h.attachments == nil {
		return h.mapChatError(c, services.ErrUpload.With("file storage is not configured"))
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.mapChatError(c, services.ErrValidation.With("file is required"))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return h.mapChatError(c, services.ErrValidation.With("file could not be read"))
	}
	defer file.Close()

	media, err := h.attachments.Upload(c.UserContext(), services.AttachmentInput{
		ConversationID: conversationID,
		CallerID:       userID,
		Filename:       fileHeader.Filename,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		Size:           fileHeader.Size,
		Kind:           models.MediaKind(strings.ToUpper(strings.TrimSpace(c.FormValue("kind")))),
		Body:           file,
	})
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(media)
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token", "code": "unauthorized"})
	}

	session := strings.TrimSpace(c.Query("session_id"))
	if session == "" || len(session) > maxSessionIDLength {
		session = uuid.NewString()
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("session_id", session)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(int64)
	session, _ := conn.Locals("session_id").(string)
	client := chatws.NewClient(h.hub, conn, userID, session)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(context.Background(), h.service)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func callerAndID(c *fiber.Ctx) (int64, int64, error) {
	userID, ok := c.Locals("user_id").(int64)
	if !ok || userID <= 0 {
		return 0, 0, services.ErrForbidden.With("caller is not authenticated")
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, services.ErrValidation.With("invalid id")
	}
	return userID, id, nil
}

func originKey(c *fiber.Ctx, userID int64) string {
	session, _ := c.Locals("session_id").(string)
	if len(session) > maxSessionIDLength {
		return ""
	}
	return models.OriginKey(userID, session)
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.CodeValidation:
		return fiber.StatusBadRequest
	case services.CodeForbidden:
		return fiber.StatusForbidden
	case services.CodeNotFound:
		return fiber.StatusNotFound
	case services.CodeUpload:
		return fiber.StatusBadGateway
	case services.CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *ChatHandler) mapChatError(c *fiber.Ctx, err error) error {
	code := services.CodeOf(err)
	status := statusFor(code)
	if status >= fiber.StatusInternalServerError {
		h.log.Error("chat request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": services.MessageOf(err),
		"code":  code,
	})
}
